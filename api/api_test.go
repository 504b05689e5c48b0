package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkchat/zkauth/api"
	"github.com/zkchat/zkauth/auth"
	"github.com/zkchat/zkauth/curve"
	"github.com/zkchat/zkauth/internal/util"
	"github.com/zkchat/zkauth/storage/memory"
)

type testServer struct {
	*httptest.Server
	kdf    auth.KDF
	tokens *auth.TokenIssuer
}

func setupServer(t *testing.T, opts ...api.Option) *testServer {
	t.Helper()
	kdf, err := auth.NewKDF(1000)
	require.NoError(t, err)
	tokens, err := auth.NewTokenIssuer([]byte(strings.Repeat("t", 32)), 0)
	require.NoError(t, err)

	accounts := auth.NewCredentialStore(memory.NewRepository(), auth.WithKDF(kdf))
	sessions := auth.NewSessionManager(accounts)
	opts = append([]api.Option{
		api.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		api.WithTokenIssuer(tokens),
	}, opts...)
	a, err := api.New(accounts, sessions, opts...)
	require.NoError(t, err)

	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, kdf: kdf, tokens: tokens}
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	return doJSONAuth(t, method, url, "", body)
}

func doJSONAuth(t *testing.T, method, url, bearer string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (s *testServer) register(t *testing.T, username, password string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, s.URL+"/api/register", api.RegisterRequest{Username: username, Password: password})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// begin opens a session and returns it with a prover for password.
func (s *testServer) begin(t *testing.T, username, password string) (string, *auth.Prover) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, s.URL+"/api/login", api.LoginRequest{Username: username})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decode[api.LoginResponse](t, resp)
	require.True(t, login.Success)

	salt, err := util.HexDecode(login.Salt)
	require.NoError(t, err)
	prover, err := auth.NewProver(s.kdf, password, salt)
	require.NoError(t, err)
	t.Cleanup(prover.Destroy)
	return login.SessionID, prover
}

func (s *testServer) challenge(t *testing.T, sessionID string) *curve.Scalar {
	t.Helper()
	resp := doJSON(t, http.MethodPost, s.URL+"/api/challenge", api.ChallengeRequest{SessionID: sessionID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[api.ChallengeResponse](t, resp)
	e, err := curve.ScalarFromHex(body.Challenge)
	require.NoError(t, err)
	return e
}

func (s *testServer) prove(t *testing.T, sessionID string, proof auth.Proof) *http.Response {
	t.Helper()
	r, sHex := proof.Encode()
	return doJSON(t, http.MethodPost, s.URL+"/api/zkp-auth", api.ProofRequest{
		SessionID:  sessionID,
		Commitment: r,
		Response:   sHex,
	})
}

func (s *testServer) login(t *testing.T, username, password string) (string, *http.Response) {
	t.Helper()
	sid, prover := s.begin(t, username, password)
	e := s.challenge(t, sid)
	proof, err := prover.Prove(e)
	require.NoError(t, err)
	return sid, s.prove(t, sid, proof)
}

func TestRegisterLoginAndListUsers(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, "alice", "correct horse")

	sid, resp := srv.login(t, "alice", "correct horse")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[api.ProofResponse](t, resp)
	assert.True(t, body.Success)

	claims, err := srv.tokens.Parse(body.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, sid, claims.SessionID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/users", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	users := decode[api.UsersResponse](t, resp)
	require.Len(t, users.Users, 1)
	assert.Equal(t, auth.OnlineUser{Username: "alice", SessionID: sid}, users.Users[0])

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+sid, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[api.SessionStatusResponse](t, resp)
	assert.Equal(t, "alice", status.Username)
	assert.Equal(t, "authenticated", status.State)
	assert.True(t, status.Authenticated)
}

func TestLoginResponseEncodings(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, "alice", "correct horse")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/login", api.LoginRequest{Username: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decode[api.LoginResponse](t, resp)
	assert.Len(t, login.SessionID, 16)
	assert.Len(t, login.Salt, 32)
	assert.Equal(t, strings.ToLower(login.Salt), login.Salt)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/challenge", api.ChallengeRequest{SessionID: login.SessionID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ch := decode[api.ChallengeResponse](t, resp)
	assert.Len(t, ch.Challenge, 64)
}

func TestTamperedProofRejected(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, "alice", "correct horse")

	sid, prover := srv.begin(t, "alice", "correct horse")
	e := srv.challenge(t, sid)
	proof, err := prover.Prove(e)
	require.NoError(t, err)
	proof.Response = proof.Response.Add(curve.ScalarFromUint32(1))

	resp := srv.prove(t, sid, proof)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid proof", decode[api.ErrorResponse](t, resp).Error)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/users", nil)
	assert.Empty(t, decode[api.UsersResponse](t, resp).Users)
}

func TestWrongPasswordRejected(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, "alice", "correct horse")

	sid, resp := srv.login(t, "alice", "battery staple")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+sid, nil)
	status := decode[api.SessionStatusResponse](t, resp)
	assert.Equal(t, "failed", status.State)
	assert.False(t, status.Authenticated)
}

func TestMalformedProofMatchesInvalidProof(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, "alice", "correct horse")
	sid, _ := srv.begin(t, "alice", "correct horse")
	srv.challenge(t, sid)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/zkp-auth", api.ProofRequest{
		SessionID:  sid,
		Commitment: "02" + strings.Repeat("ff", 32),
		Response:   curve.Order().Text(16),
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid proof", decode[api.ErrorResponse](t, resp).Error)
}

func TestUnknownUser(t *testing.T) {
	srv := setupServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/login", api.LoginRequest{Username: "bob"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.False(t, body.Success)
	assert.Equal(t, "unknown account", body.Error)
}

func TestRegisterErrors(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, "alice", "correct horse")

	tests := []struct {
		name string
		body any
		want int
	}{
		{"Duplicate", api.RegisterRequest{Username: "alice", Password: "another pw"}, http.StatusConflict},
		{"WeakPassword", api.RegisterRequest{Username: "carol", Password: "abc"}, http.StatusBadRequest},
		{"EmptyUsername", api.RegisterRequest{Password: "password"}, http.StatusBadRequest},
		{"UnknownField", map[string]string{"username": "dave", "password": "password", "public_key": "02"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, srv.URL+"/api/register", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestMalformedBodies(t *testing.T) {
	srv := setupServer(t)
	for _, body := range []string{"", "{", `{"username":1}`, `{"username":"a"}{"username":"b"}`} {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/api/login", strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %q", body)
	}
}

func TestSessionErrors(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, "alice", "correct horse")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/challenge", api.ChallengeRequest{SessionID: "0000000000000000"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	sid, _ := srv.begin(t, "alice", "correct horse")
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/zkp-auth", api.ProofRequest{SessionID: sid, Commitment: "00", Response: "00"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "proof before challenge")

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/0000000000000000", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChallengeAfterAuthentication(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, "alice", "correct horse")
	sid, resp := srv.login(t, "alice", "correct horse")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/challenge", api.ChallengeRequest{SessionID: sid})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLogout(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, "alice", "correct horse")
	sid, resp := srv.login(t, "alice", "correct horse")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := decode[api.ProofResponse](t, resp).Token

	resp = doJSONAuth(t, http.MethodPost, srv.URL+"/api/logout", token, api.LogoutRequest{SessionID: sid})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/users", nil)
	assert.Empty(t, decode[api.UsersResponse](t, resp).Users)

	resp = doJSONAuth(t, http.MethodPost, srv.URL+"/api/logout", token, api.LogoutRequest{SessionID: sid})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLogoutRequiresSessionToken(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, "alice", "correct horse")
	srv.register(t, "bob", "hunter22")
	aliceSID, resp := srv.login(t, "alice", "correct horse")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bobSID, resp := srv.login(t, "bob", "hunter22")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bobToken := decode[api.ProofResponse](t, resp).Token

	// Session IDs are public through /api/users; knowing one is not enough.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/logout", api.LogoutRequest{SessionID: aliceSID})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = doJSONAuth(t, http.MethodPost, srv.URL+"/api/logout", "garbage", api.LogoutRequest{SessionID: aliceSID})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = doJSONAuth(t, http.MethodPost, srv.URL+"/api/logout", bobToken, api.LogoutRequest{SessionID: aliceSID})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/users", nil)
	assert.Len(t, decode[api.UsersResponse](t, resp).Users, 2)

	// An empty session_id ends the token's own session.
	resp = doJSONAuth(t, http.MethodPost, srv.URL+"/api/logout", bobToken, api.LogoutRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/users", nil)
	users := decode[api.UsersResponse](t, resp).Users
	require.Len(t, users, 1)
	assert.Equal(t, aliceSID, users[0].SessionID)
	assert.NotEqual(t, bobSID, users[0].SessionID)
}

func TestReplayedProofGetsNoToken(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, "alice", "correct horse")
	sid, prover := srv.begin(t, "alice", "correct horse")
	e := srv.challenge(t, sid)
	proof, err := prover.Prove(e)
	require.NoError(t, err)

	resp := srv.prove(t, sid, proof)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, decode[api.ProofResponse](t, resp).Token)

	resp = srv.prove(t, sid, proof)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "session already authenticated", body.Error)
}

func TestSuccessfulLoginKeepsIPEnumerationCount(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, "alice", "correct horse")

	attempt := func(n int) {
		for i := 0; i < n; i++ {
			resp := doJSON(t, http.MethodPost, srv.URL+"/api/login", api.LoginRequest{Username: "ghost" + strconv.Itoa(i)})
			require.Equal(t, http.StatusNotFound, resp.StatusCode)
		}
	}

	attempt(19)
	_, resp := srv.login(t, "alice", "correct horse")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The twentieth unknown username reaches the per-IP threshold even
	// though a valid login happened in between.
	attempt(1)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/login", api.LoginRequest{Username: "alice"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestProofRateLimiting(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, "alice", "correct horse")

	sid, _ := srv.begin(t, "alice", "correct horse")
	srv.challenge(t, sid)
	bogus := api.ProofRequest{SessionID: sid, Commitment: "00", Response: "00"}

	// Five failed proofs lock the username.
	for i := 0; i < 5; i++ {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/zkp-auth", bogus)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/zkp-auth", bogus)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// The lock applies to new sessions for the same username.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/login", api.LoginRequest{Username: "alice"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRegistrationRateLimiting(t *testing.T) {
	srv := setupServer(t)
	for i := 0; i < 5; i++ {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/register", api.RegisterRequest{
			Username: "user" + string(rune('a'+i)),
			Password: "password",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/register", api.RegisterRequest{Username: "userz", Password: "password"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestAuditTrail(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, "alice", "correct horse")
	srv.register(t, "bob", "hunter22")
	_, resp := srv.login(t, "alice", "correct horse")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := decode[api.ProofResponse](t, resp).Token

	get := func(url, bearer string) *http.Response {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
		require.NoError(t, err)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, get(srv.URL+"/api/audit", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(srv.URL+"/api/audit", "garbage").StatusCode)
	assert.Equal(t, http.StatusForbidden, get(srv.URL+"/api/audit?username=bob", token).StatusCode)

	resp = get(srv.URL+"/api/audit", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[api.AuditResponse](t, resp).Entries

	events := make(map[api.AuditEvent]bool)
	for _, e := range entries {
		assert.Equal(t, "alice", e.Username)
		assert.NotEmpty(t, e.ID)
		events[e.Event] = true
	}
	for _, want := range []api.AuditEvent{api.AuditRegister, api.AuditLoginBegin, api.AuditChallengeIssued, api.AuditProofSuccess} {
		assert.True(t, events[want], "missing %s", want)
	}
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	srv := setupServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "ok", decode[api.HealthResponse](t, resp).Status)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/openapi.yaml", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
