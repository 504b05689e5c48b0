package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/zkchat/zkauth/auth"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditRegister            AuditEvent = "register"
	AuditRegisterRateLimited AuditEvent = "register_rate_limited"
	AuditLoginBegin          AuditEvent = "login_begin"
	AuditChallengeIssued     AuditEvent = "challenge_issued"
	AuditProofSuccess        AuditEvent = "proof_success"
	AuditProofFailure        AuditEvent = "proof_failure"
	AuditProofRateLimited    AuditEvent = "proof_rate_limited"
	AuditLogout              AuditEvent = "logout"
	AuditSessionExpired      AuditEvent = "session_expired"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Usernames and session IDs are logged; passwords, scalars and proof
// values never are.
type auditLogger struct {
	logger  *slog.Logger
	trail   *auditTrail
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger, trail *auditTrail) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
		trail:  trail,
	}
}

func (al *auditLogger) write(ctx context.Context, entry AuditEntry, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(entry.Event)),
		slog.String("timestamp", entry.CreatedAt),
	}
	if entry.RemoteAddr != "" {
		base = append(base, slog.String("remote_addr", entry.RemoteAddr))
	}
	if entry.Username != "" {
		base = append(base, slog.String("username", entry.Username))
	}
	if entry.SessionID != "" {
		base = append(base, slog.String("session_id", entry.SessionID))
	}
	if entry.Reason != "" {
		base = append(base, slog.String("reason", entry.Reason))
	}
	base = append(base, attrs...)
	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", base...)

	if al.trail != nil && entry.Username != "" {
		if err := al.trail.append(entry); err != nil {
			al.logger.Warn("persisting audit entry failed", "error", err)
		}
	}
	if al.metrics != nil {
		al.metrics.recordEvent(entry.Event)
	}
}

func newEntry(event AuditEvent, r *http.Request, username, sessionID string) AuditEntry {
	e := AuditEntry{
		Event:     event,
		Username:  username,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if r != nil {
		e.RemoteAddr = r.RemoteAddr
	}
	return e
}

// logEvent records a successful action by username.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, username, sessionID string, extra ...slog.Attr) {
	al.write(r.Context(), newEntry(event, r, username, sessionID), extra...)
}

// logFailure records a rejected action. username may be empty.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, username, reason string, extra ...slog.Attr) {
	entry := newEntry(event, r, username, "")
	entry.Reason = reason
	al.write(r.Context(), entry, extra...)
}

// logSessionFailure records a rejected action on a known session.
func (al *auditLogger) logSessionFailure(event AuditEvent, r *http.Request, username, sessionID, reason string) {
	entry := newEntry(event, r, username, sessionID)
	entry.Reason = reason
	al.write(r.Context(), entry)
}

// logExpiry records a session discarded for age.
func (al *auditLogger) logExpiry(s auth.AuthSession) {
	entry := newEntry(AuditSessionExpired, nil, s.Username, s.ID)
	al.write(context.Background(), entry, slog.Bool("authenticated", s.Authenticated))
}
