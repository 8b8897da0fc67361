package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"relayctl/internal/config"
	"relayctl/internal/store"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInit_WritesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relayctl.yaml")
	if _, err := runCLI(t, "init", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Coordinator == nil || cfg.Coordinator.NodeTTLSec != config.DefaultNodeTTLSec {
		t.Fatalf("coordinator=%+v", cfg.Coordinator)
	}
	if cfg.Agent == nil || cfg.Agent.IntervalSec != config.DefaultIntervalSec {
		t.Fatalf("agent=%+v", cfg.Agent)
	}

	if _, err := runCLI(t, "init", path); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if _, err := runCLI(t, "init", "--force", path); err != nil {
		t.Fatalf("init --force: %v", err)
	}
}

func TestCoordinatorStatus_Formats(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	seen := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := &store.Snapshot{UpdatedAt: seen, Nodes: []store.NodeInfo{{ID: "relay-a", IP: "1.2.3.4", Port: 9000, LastSeen: seen}}}
	if err := store.SaveSnapshot(path, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	out, err := runCLI(t, "coordinator", "status", "--snapshot", path)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "relay-a") || !strings.Contains(out, "2024-01-02T03:04:05Z") {
		t.Fatalf("table output=%q", out)
	}

	out, err = runCLI(t, "coordinator", "status", "--snapshot", path, "--format", "json")
	if err != nil {
		t.Fatalf("status json: %v", err)
	}
	var decoded store.Snapshot
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("json output %q: %v", out, err)
	}
	if len(decoded.Nodes) != 1 || decoded.Nodes[0].Port != 9000 {
		t.Fatalf("decoded=%+v", decoded)
	}

	if _, err := runCLI(t, "coordinator", "status", "--snapshot", path, "--format", "xml"); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestCoordinatorStatus_RequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := runCLI(t, "coordinator", "status"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWriteOutput_YAML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := writeOutput(&buf, "yaml", map[string]int{"port": 9000}, nil); err != nil {
		t.Fatalf("writeOutput: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "port: 9000" {
		t.Fatalf("yaml=%q", buf.String())
	}
}

func TestWatchRedis_FailsAfterConsecutiveErrors(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watchRedis(ctx, rdb, zaptest.NewLogger(t), 20*time.Millisecond, 3) }()

	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("watchRedis returned while redis was up: %v", err)
	default:
	}

	mr.Close()
	err := <-done
	if err == nil || !strings.Contains(err.Error(), "redis unreachable after 3 checks") {
		t.Fatalf("err=%v", err)
	}
}

func TestWatchRedis_StopsOnCancel(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := watchRedis(ctx, rdb, zaptest.NewLogger(t), time.Hour, 3); err != nil {
		t.Fatalf("watchRedis: %v", err)
	}
}

func TestCoordinatorServe_InvalidConfigReturnsError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relayctl.yaml")
	if err := config.Save(path, config.Config{Coordinator: &config.CoordinatorConfig{}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_, err := runCLI(t, "--config", path, "coordinator", "serve")
	if err == nil || !strings.Contains(err.Error(), "coordinator.secret is required") {
		t.Fatalf("err=%v", err)
	}
}
