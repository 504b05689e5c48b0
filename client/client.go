// Package client speaks the zkauth HTTP protocol. The password and the
// scalar derived from it stay in this process; only the salt, the
// commitment and the response cross the wire.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zkchat/zkauth/api"
	"github.com/zkchat/zkauth/auth"
	"github.com/zkchat/zkauth/curve"
	"github.com/zkchat/zkauth/internal/util"
)

// DefaultServerURL is where the CLI looks for a server.
const DefaultServerURL = "http://localhost:4000"

// Client talks to one zkauth server.
type Client struct {
	baseURL string
	http    *http.Client
	kdf     auth.KDF
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithKDF sets the key derivation the server was configured with.
func WithKDF(k auth.KDF) Option {
	return func(c *Client) {
		c.kdf = k
	}
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		kdf:     auth.DefaultKDF(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx response. It unwraps to the matching auth
// sentinel where the status and message identify one.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized && e.Message == "invalid proof":
		return auth.ErrInvalidProof
	case e.StatusCode == http.StatusUnauthorized && e.Message == "invalid token":
		return auth.ErrInvalidToken
	case e.StatusCode == http.StatusNotFound && e.Message == "unknown account":
		return auth.ErrUnknownAccount
	case e.StatusCode == http.StatusNotFound && e.Message == "unknown session":
		return auth.ErrUnknownSession
	case e.StatusCode == http.StatusConflict && e.Message == "account already exists":
		return auth.ErrDuplicateAccount
	case e.StatusCode == http.StatusConflict && e.Message == "no challenge issued":
		return auth.ErrNoChallengeIssued
	case e.StatusCode == http.StatusConflict && e.Message == "session already authenticated":
		return auth.ErrAlreadyAuthenticated
	}
	return nil
}

// ErrRateLimited is returned for 429 responses; see RetryAfter.
var ErrRateLimited = errors.New("rate limited")

// RateLimitError carries the server's Retry-After hint.
type RateLimitError struct {
	RetryAfter string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited; retry after %ss", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return err
		}
		body = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: resp.Header.Get("Retry-After")}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// Register enrolls username. The server derives the public key.
func (c *Client) Register(ctx context.Context, username, password string) error {
	return c.do(ctx, http.MethodPost, "/api/register", "", api.RegisterRequest{
		Username: username,
		Password: password,
	}, nil)
}

// Session is an authenticated login.
type Session struct {
	Username  string
	SessionID string
	Token     string
}

// Login runs the whole protocol: open a session, derive x from the salt,
// commit, fetch the challenge, respond and submit the proof.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	var begin api.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/login", "", api.LoginRequest{Username: username}, &begin); err != nil {
		return nil, err
	}
	salt, err := util.HexDecode(begin.Salt)
	if err != nil || len(salt) != auth.SaltSize {
		return nil, errors.New("server sent an invalid salt")
	}

	prover, err := auth.NewProver(c.kdf, password, salt)
	if err != nil {
		return nil, err
	}
	defer prover.Destroy()

	commitment, err := prover.Commit()
	if err != nil {
		return nil, err
	}

	var ch api.ChallengeResponse
	if err := c.do(ctx, http.MethodPost, "/api/challenge", "", api.ChallengeRequest{SessionID: begin.SessionID}, &ch); err != nil {
		return nil, err
	}
	e, err := curve.ScalarFromHex(ch.Challenge)
	if err != nil {
		return nil, fmt.Errorf("server sent an invalid challenge: %w", err)
	}

	s, err := prover.Respond(e)
	if err != nil {
		return nil, err
	}
	rHex, sHex := auth.Proof{Commitment: commitment, Response: s}.Encode()
	s.Wipe()

	var proof api.ProofResponse
	if err := c.do(ctx, http.MethodPost, "/api/zkp-auth", "", api.ProofRequest{
		SessionID:  begin.SessionID,
		Commitment: rHex,
		Response:   sHex,
	}, &proof); err != nil {
		return nil, err
	}
	return &Session{Username: username, SessionID: begin.SessionID, Token: proof.Token}, nil
}

// OnlineUsers lists authenticated users.
func (c *Client) OnlineUsers(ctx context.Context) ([]auth.OnlineUser, error) {
	var resp api.UsersResponse
	if err := c.do(ctx, http.MethodGet, "/api/users", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// SessionStatus reports the state of a session.
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (*api.SessionStatusResponse, error) {
	var resp api.SessionStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID), "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout ends the session the admission token was issued for.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/api/logout", token, api.LogoutRequest{}, nil)
}

// Audit fetches the audit trail of the token's user.
func (c *Client) Audit(ctx context.Context, token string) ([]api.AuditEntry, error) {
	var resp api.AuditResponse
	if err := c.do(ctx, http.MethodGet, "/api/audit", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}
