package api

import "time"

// SessionCookie carries the session token on authenticated requests.
const SessionCookie = "session_key"

// VerificationRequest exchanges the shared password for a session token.
type VerificationRequest struct {
	Password string `json:"password"`
}

// VerificationResponse returns the issued session token.
type VerificationResponse struct {
	SessionKey string `json:"sessionKey"`
}

// UpdateNodeRequest is the heartbeat a relay agent sends every cycle.
type UpdateNodeRequest struct {
	NodeID string `json:"node_id"`
	IP     string `json:"ip"`
	Port   int    `json:"port"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// RelayInfo is one live relay as seen by discovery clients.
type RelayInfo struct {
	IP       string    `json:"ip" yaml:"ip"`
	Port     int       `json:"port" yaml:"port"`
	LastSeen time.Time `json:"last_seen" yaml:"last_seen"`
}

// RelayList maps node id to relay info.
type RelayList map[string]RelayInfo

// RelayListResponse is the registry snapshot returned by /relay_list.
type RelayListResponse struct {
	RelayList RelayList `json:"relay_list"`
}

// ClashFileResponse carries the operator-supplied proxy file verbatim.
type ClashFileResponse struct {
	ClashFile string `json:"clash_file"`
}

// ErrorResponse is the body of every non-2xx coordinator response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PublicIPResponse is the body returned by IP echo services.
type PublicIPResponse struct {
	IP string `json:"ip"`
}
