package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"samadhan/internal/auth"
	"samadhan/internal/config"
	"samadhan/internal/db"
	"samadhan/internal/identity"
	"samadhan/internal/imagehost"
)

const testPassword = "Secret123"

type captureMailer struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *captureMailer) SendVerification(_ context.Context, to, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[to] = token
	return nil
}

func (m *captureMailer) SendPasswordReset(_ context.Context, to, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens["reset:"+to] = token
	return nil
}

func (m *captureMailer) token(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[key]
}

type captureTexter struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *captureTexter) SendVerificationCode(_ context.Context, to, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[to] = code
	return nil
}

func (c *captureTexter) SendPasswordResetCode(_ context.Context, to, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes["reset:"+to] = code
	return nil
}

func (c *captureTexter) code(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[key]
}

type testServer struct {
	handler http.Handler
	service *identity.Service
	mail    *captureMailer
	sms     *captureTexter
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Name = "Samadhan"
	cfg.Server.Environment = "development"
	cfg.RateLimit.Auth = config.LimitConfig{Requests: 1000, Window: time.Minute}
	cfg.RateLimit.Verification = config.LimitConfig{Requests: 1000, Window: time.Minute}
	cfg.RateLimit.Refresh = config.LimitConfig{Requests: 1000, Window: time.Minute}
	cfg.Storage.UploadMaxBytes = 5 << 20
	cfg.Storage.ImageMaxEdge = 256
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, counters CounterFactory) *testServer {
	t.Helper()

	dir := t.TempDir()
	database, err := db.Open(filepath.Join(dir, "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	disk, err := imagehost.NewDiskStore(filepath.Join(dir, "media"), "")
	require.NoError(t, err)
	images, err := imagehost.NewService(disk, cfg.Storage.UploadMaxBytes, cfg.Storage.ImageMaxEdge)
	require.NoError(t, err)

	mail := &captureMailer{tokens: map[string]string{}}
	texter := &captureTexter{codes: map[string]string{}}

	verifier := identity.NewVerifier(db.NewChallengeRepository(database), mail, texter, identity.VerifierConfig{
		EmailTokenTTL:    24 * time.Hour,
		PhoneCodeTTL:     10 * time.Minute,
		PasswordResetTTL: time.Hour,
		MaxAttempts:      5,
	})
	service := identity.NewService(identity.Deps{
		Identities:    db.NewIdentityRepository(database),
		RefreshTokens: db.NewRefreshTokenRepository(database),
		Verifier:      verifier,
		Tokens:        auth.NewTokenService("access-secret-for-api-tests-000000", "refresh-secret-for-api-tests-00000", 15*time.Minute, 24*time.Hour),
		Hasher:        auth.NewPasswordHasher(bcrypt.MinCost),
		Images:        images,
	})

	srv, err := NewServer(ServerDeps{
		Config:   cfg,
		Service:  service,
		Database: database,
		Media:    disk,
		Counters: counters,
	})
	require.NoError(t, err)

	return &testServer{handler: srv, service: service, mail: mail, sms: texter}
}

type testEnvelope struct {
	Success           bool            `json:"success"`
	Message           string          `json:"message"`
	Data              json.RawMessage `json:"data"`
	Error             *ErrorDetail    `json:"error"`
	NeedsVerification bool            `json:"needsVerification"`
}

func (ts *testServer) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	var env testEnvelope
	if rr.Body.Len() > 0 && rr.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), "body=%q", rr.Body.String())
	}
	return rr, env
}

type sessionData struct {
	User struct {
		ID         string  `json:"id"`
		Email      *string `json:"email"`
		IsVerified bool    `json:"isVerified"`
		Role       string  `json:"role"`
		Avatar     *struct {
			URL string `json:"url"`
		} `json:"avatar"`
	} `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func decodeData[T any](t *testing.T, env testEnvelope) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out), "data=%s", string(env.Data))
	return out
}

// loginVerifiedEmail registers, verifies and logs in email, returning the
// session payload.
func (ts *testServer) loginVerifiedEmail(t *testing.T, email string) sessionData {
	t.Helper()

	rr, _ := ts.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Asha Rao", "email": email, "password": testPassword, "authMethod": "email",
	}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr, _ = ts.do(t, http.MethodGet, "/api/auth/verify-email/"+ts.mail.token(email), nil, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr, env := ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": email, "password": testPassword, "authMethod": "email",
	}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decodeData[sessionData](t, env)
}

func pngDataURL(t *testing.T, w, h int) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}
