package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zkchat/zkauth/auth"
	"github.com/zkchat/zkauth/internal/util"
)

// Register handles POST /api/register.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	// Rate-limit registration before any expensive work.
	clientIP := a.extractClientIP(r)
	if blocked, retryAfter := a.regGlobalLimiter.check(); blocked {
		a.audit.logFailure(AuditRegisterRateLimited, r, "", "global rate limited")
		writeRegistrationRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := a.regIPLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditRegisterRateLimited, r, "", "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRegistrationRateLimited(w, retryAfter)
		return
	}

	req, ok := decodeJSON[RegisterRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	// Record the request against both limiters before the KDF runs.
	a.regIPLimiter.recordFailure(clientIP)
	a.regGlobalLimiter.record()

	if err := a.accounts.Register(r.Context(), req.Username, req.Password); err != nil {
		mapError(w, err)
		return
	}

	a.audit.logEvent(AuditRegister, r, req.Username, "")
	writeJSON(w, http.StatusCreated, SuccessResponse{Success: true})
}

// Login handles POST /api/login. It opens a session and returns the
// account salt so the client can derive its private scalar.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	clientIP := a.extractClientIP(r)
	if blocked, retryAfter := a.ipLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditProofRateLimited, r, req.Username, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := a.rateLimiter.check(req.Username); blocked {
		a.audit.logFailure(AuditProofRateLimited, r, req.Username, "rate limited")
		writeRateLimited(w, retryAfter)
		return
	}

	ticket, err := a.sessions.BeginLogin(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownAccount) {
			// Guessing usernames costs the client IP, not the account.
			a.ipLimiter.recordFailure(clientIP)
		}
		mapError(w, err)
		return
	}

	a.audit.logEvent(AuditLoginBegin, r, req.Username, ticket.SessionID)
	writeJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		SessionID: ticket.SessionID,
		Salt:      util.HexEncode(ticket.Salt),
	})
}

// Challenge handles POST /api/challenge.
func (a *API) Challenge(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ChallengeRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	e, err := a.sessions.IssueChallenge(r.Context(), req.SessionID)
	if err != nil {
		mapError(w, err)
		return
	}

	var username string
	if status, err := a.sessions.Session(req.SessionID); err == nil {
		username = status.Username
	}
	a.audit.logEvent(AuditChallengeIssued, r, username, req.SessionID)
	writeJSON(w, http.StatusOK, ChallengeResponse{Success: true, Challenge: e.Hex()})
}

// ZKPAuth handles POST /api/zkp-auth. A verified proof authenticates the
// session, puts the user online and returns an admission token.
func (a *API) ZKPAuth(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ProofRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	status, err := a.sessions.Session(req.SessionID)
	if err != nil {
		mapError(w, err)
		return
	}
	username := status.Username
	clientIP := a.extractClientIP(r)

	// Check rate limits before verifying: global → IP → per-username.
	if blocked, retryAfter := a.globalLimiter.check(); blocked {
		a.audit.logFailure(AuditProofRateLimited, r, username, "global rate limited")
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := a.ipLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditProofRateLimited, r, username, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := a.rateLimiter.check(username); blocked {
		a.audit.logFailure(AuditProofRateLimited, r, username, "rate limited")
		writeRateLimited(w, retryAfter)
		return
	}

	err = a.sessions.VerifyEncodedProof(r.Context(), req.SessionID, req.Commitment, req.Response)
	if errors.Is(err, auth.ErrInvalidProof) || errors.Is(err, auth.ErrMalformedProof) {
		a.rateLimiter.recordFailure(username)
		a.ipLimiter.recordFailure(clientIP)
		a.globalLimiter.record()
		a.audit.logSessionFailure(AuditProofFailure, r, username, req.SessionID, err.Error())
		mapError(w, err)
		return
	}
	if err != nil {
		mapError(w, err)
		return
	}

	// Only the username budget resets; the IP budget also counts username
	// guesses, which one valid login must not clear.
	a.rateLimiter.recordSuccess(username)

	token, err := a.tokens.Issue(username, req.SessionID)
	if err != nil {
		writeInternalError(w, "issuing admission token", err)
		return
	}
	a.audit.logEvent(AuditProofSuccess, r, username, req.SessionID)
	writeJSON(w, http.StatusOK, ProofResponse{Success: true, Token: token})
}

// Logout handles POST /api/logout. Only the holder of the session's
// admission token may end it; an empty session_id means the token's own.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.bearerClaims(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[LogoutRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.SessionID == "" {
		req.SessionID = claims.SessionID
	}
	if req.SessionID != claims.SessionID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	username, err := a.sessions.Logout(req.SessionID)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditLogout, r, username, req.SessionID)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Users handles GET /api/users.
func (a *API) Users(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, UsersResponse{
		Success: true,
		Users:   a.sessions.OnlineUsers().List(),
	})
}

// SessionStatus handles GET /api/sessions/{sessionID}.
func (a *API) SessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.sessions.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionStatusResponse{
		Success:       true,
		Username:      status.Username,
		State:         status.State.String(),
		Authenticated: status.Authenticated,
	})
}

// ListAudit handles GET /api/audit. The caller presents an admission token
// and sees only their own entries.
func (a *API) ListAudit(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.bearerClaims(w, r)
	if !ok {
		return
	}
	if u := r.URL.Query().Get("username"); u != "" && u != claims.Subject {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	entries, err := a.trail.list(claims.Subject)
	if err != nil {
		writeInternalError(w, "listing audit entries", err)
		return
	}
	writeJSON(w, http.StatusOK, AuditResponse{Success: true, Entries: entries})
}

// bearerClaims validates the admission token in the Authorization header
// and writes a 401 when it is missing or invalid.
func (a *API) bearerClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	claims, err := a.tokens.Parse(raw)
	if err != nil {
		mapError(w, err)
		return nil, false
	}
	return claims, true
}

// Health handles GET /health.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		OnlineUsers: a.sessions.OnlineUsers().Len(),
	})
}
