package api

import "github.com/zkchat/zkauth/auth"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// RegisterRequest is the JSON body for POST /api/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SuccessResponse is returned by endpoints with nothing else to say.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// LoginRequest is the JSON body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
}

// LoginResponse is returned from POST /api/login. Salt is hex.
type LoginResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Salt      string `json:"salt"`
}

// ChallengeRequest is the JSON body for POST /api/challenge.
type ChallengeRequest struct {
	SessionID string `json:"session_id"`
}

// ChallengeResponse is returned from POST /api/challenge. Challenge is the
// 32-byte scalar e in hex.
type ChallengeResponse struct {
	Success   bool   `json:"success"`
	Challenge string `json:"challenge"`
}

// ProofRequest is the JSON body for POST /api/zkp-auth. Commitment is the
// SEC1 point R, Response the scalar s, both hex.
type ProofRequest struct {
	SessionID  string `json:"session_id"`
	Commitment string `json:"commitment"`
	Response   string `json:"response"`
}

// ProofResponse is returned from a successful POST /api/zkp-auth.
type ProofResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
}

// LogoutRequest is the JSON body for POST /api/logout.
type LogoutRequest struct {
	SessionID string `json:"session_id"`
}

// UsersResponse is returned from GET /api/users.
type UsersResponse struct {
	Success bool              `json:"success"`
	Users   []auth.OnlineUser `json:"users"`
}

// SessionStatusResponse is returned from GET /api/sessions/{sessionID}.
type SessionStatusResponse struct {
	Success       bool   `json:"success"`
	Username      string `json:"username"`
	State         string `json:"state"`
	Authenticated bool   `json:"authenticated"`
}

// AuditResponse is returned from GET /api/audit.
type AuditResponse struct {
	Success bool         `json:"success"`
	Entries []AuditEntry `json:"entries"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	OnlineUsers int    `json:"online_users"`
}
