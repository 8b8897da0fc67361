package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestApplyDefaults_Agent(t *testing.T) {
	t.Parallel()

	cfg := Config{Agent: &AgentConfig{NodeID: "n1"}}
	ApplyDefaults(&cfg)

	if cfg.Agent.IntervalSec != DefaultIntervalSec {
		t.Fatalf("interval_sec=%d", cfg.Agent.IntervalSec)
	}
	if cfg.Agent.RequestTimeoutSec != DefaultRequestTimeoutSec || cfg.Agent.AddrTimeoutSec != DefaultAddrTimeoutSec {
		t.Fatalf("timeouts not set: %+v", cfg.Agent)
	}
	if cfg.Agent.IPEchoURL != DefaultIPEchoURL {
		t.Fatalf("ip_echo_url=%q", cfg.Agent.IPEchoURL)
	}
	if cfg.Log == nil || cfg.Log.Level != DefaultLogLevel {
		t.Fatalf("log defaults not set: %+v", cfg.Log)
	}
}

func TestApplyDefaults_AgentKeepsSTUNOnly(t *testing.T) {
	t.Parallel()

	cfg := Config{Agent: &AgentConfig{STUNServers: []string{"stun.l.google.com:19302"}}}
	ApplyDefaults(&cfg)
	if cfg.Agent.IPEchoURL != "" {
		t.Fatalf("ip_echo_url=%q", cfg.Agent.IPEchoURL)
	}
}

func TestApplyDefaults_Coordinator(t *testing.T) {
	t.Parallel()

	cfg := Config{Coordinator: &CoordinatorConfig{Secret: "x"}}
	ApplyDefaults(&cfg)
	c := cfg.Coordinator
	if c.Listen != DefaultListen || c.TokenMaxAgeSec != 3600 || c.NodeTTLSec != 1800 {
		t.Fatalf("coordinator defaults: %+v", c)
	}
	if c.VerifyRatePerSec != DefaultVerifyRatePerSec || c.VerifyBurst != DefaultVerifyBurst {
		t.Fatalf("verify limiter defaults: %+v", c)
	}
	if c.SnapshotIntervalSec != DefaultSnapshotInterval {
		t.Fatalf("snapshot_interval_sec=%d", c.SnapshotIntervalSec)
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := Config{Agent: &AgentConfig{}}
	ApplyDefaults(&cfg)
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"agent.node_id", "agent.coordinator", "agent.password", "agent.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}

	cfg.Agent.NodeID = "n1"
	cfg.Agent.Coordinator = "127.0.0.1:8000"
	cfg.Agent.Password = "pw"
	cfg.Agent.Port = 9000
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestValidate_EmptyConfig(t *testing.T) {
	t.Parallel()

	if err := Validate(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSave_Writes0600(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "agent.yaml")
	cfg := Config{Agent: &AgentConfig{NodeID: "n1", Coordinator: "127.0.0.1:8000"}}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "relayctl.yaml")
	data := `
coordinator:
  listen: 127.0.0.1:9100
  node_ttl_sec: 60
agent:
  node_id: relay-a
  coordinator: 127.0.0.1:9100
  port: 9000
  stun_servers:
    - stun.l.google.com:19302
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("RELAYCTL_COORDINATOR_SECRET", "from-env")
	t.Setenv("RELAYCTL_AGENT_PASSWORD", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Coordinator == nil || cfg.Coordinator.Listen != "127.0.0.1:9100" || cfg.Coordinator.NodeTTLSec != 60 {
		t.Fatalf("coordinator=%+v", cfg.Coordinator)
	}
	if cfg.Coordinator.Secret != "from-env" {
		t.Fatalf("secret=%q", cfg.Coordinator.Secret)
	}
	if cfg.Coordinator.TokenMaxAgeSec != DefaultTokenMaxAgeSec {
		t.Fatalf("token_max_age_sec=%d", cfg.Coordinator.TokenMaxAgeSec)
	}
	if cfg.Agent == nil || cfg.Agent.NodeID != "relay-a" || cfg.Agent.Password != "from-env" {
		t.Fatalf("agent=%+v", cfg.Agent)
	}
	if len(cfg.Agent.STUNServers) != 1 {
		t.Fatalf("stun_servers=%v", cfg.Agent.STUNServers)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}
