package identity

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"samadhan/internal/auth"
	"samadhan/internal/db"
	"samadhan/internal/imagehost"
)

const (
	testPassword = "Secret123"
	testPhone    = "+919876543210"
)

type fakeMailer struct {
	mu            sync.Mutex
	verifications map[string]string
	resets        map[string]string
	sent          int
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{verifications: map[string]string{}, resets: map[string]string{}}
}

func (m *fakeMailer) SendVerification(ctx context.Context, to, name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[to] = token
	m.sent++
	return nil
}

func (m *fakeMailer) SendPasswordReset(ctx context.Context, to, name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[to] = token
	m.sent++
	return nil
}

func (m *fakeMailer) verification(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifications[to]
}

func (m *fakeMailer) reset(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets[to]
}

type fakeTexter struct {
	mu     sync.Mutex
	codes  map[string]string
	resets map[string]string
	sent   int
	err    error
}

func newFakeTexter() *fakeTexter {
	return &fakeTexter{codes: map[string]string{}, resets: map[string]string{}}
}

func (f *fakeTexter) SendVerificationCode(ctx context.Context, to, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[to] = code
	f.sent++
	return f.err
}

func (f *fakeTexter) SendPasswordResetCode(ctx context.Context, to, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[to] = code
	f.sent++
	return f.err
}

func (f *fakeTexter) code(to string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[to]
}

func (f *fakeTexter) resetCode(to string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets[to]
}

func (f *fakeTexter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

type fakeImages struct {
	mu        sync.Mutex
	uploads   int
	deleted   []string
	uploadErr error
}

func (f *fakeImages) Upload(ctx context.Context, data, folder string) (*imagehost.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads++
	id := fmt.Sprintf("%s/img_%d.jpg", folder, f.uploads)
	return &imagehost.Image{URL: "/media/" + id, PublicID: id, Width: 10, Height: 10}, nil
}

func (f *fakeImages) Delete(ctx context.Context, publicID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, publicID)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc    *Service
	db     *db.DB
	mail   *fakeMailer
	sms    *fakeTexter
	images *fakeImages
	clock  *testClock
	tokens *db.RefreshTokenRepository
}

type harnessOption func(*Deps)

func withAutoVerify() harnessOption {
	return func(d *Deps) { d.AutoVerify = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	clock := &testClock{now: time.Now().UTC()}
	mail := newFakeMailer()
	texter := newFakeTexter()
	images := &fakeImages{}

	verifier := NewVerifier(db.NewChallengeRepository(database), mail, texter, VerifierConfig{
		EmailTokenTTL:    24 * time.Hour,
		PhoneCodeTTL:     10 * time.Minute,
		PasswordResetTTL: time.Hour,
		MaxAttempts:      5,
	})
	tokens := auth.NewTokenService("access-secret-for-tests-only-000000", "refresh-secret-for-tests-only-00000", 15*time.Minute, 7*24*time.Hour).
		WithClock(clock.Now)
	refreshTokens := db.NewRefreshTokenRepository(database)

	deps := Deps{
		Identities:    db.NewIdentityRepository(database),
		RefreshTokens: refreshTokens,
		Verifier:      verifier,
		Tokens:        tokens,
		Hasher:        auth.NewPasswordHasher(bcrypt.MinCost),
		Images:        images,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	svc := NewService(deps)
	svc.SetClock(clock.Now)

	return &harness{
		svc:    svc,
		db:     database,
		mail:   mail,
		sms:    texter,
		images: images,
		clock:  clock,
		tokens: refreshTokens,
	}
}

func (h *harness) registerEmail(t *testing.T, email string) *RegisterResult {
	t.Helper()

	res, err := h.svc.Register(context.Background(), RegisterInput{
		Name:       "Asha Rao",
		Email:      email,
		Password:   testPassword,
		AuthMethod: "email",
	})
	require.NoError(t, err)
	return res
}

// verifiedEmailSession registers, verifies and logs in an email identity.
func (h *harness) verifiedEmailSession(t *testing.T, email string) *Session {
	t.Helper()
	ctx := context.Background()

	h.registerEmail(t, email)
	_, err := h.svc.VerifyEmail(ctx, h.mail.verification(email))
	require.NoError(t, err)

	res, err := h.svc.Login(ctx, LoginInput{Email: email, Password: testPassword, AuthMethod: "email"})
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	return res.Session
}

func (h *harness) registerPhone(t *testing.T, phone string) *RegisterResult {
	t.Helper()

	res, err := h.svc.Register(context.Background(), RegisterInput{
		Name:       "Ravi Kumar",
		Phone:      phone,
		AuthMethod: "phone",
	})
	require.NoError(t, err)
	return res
}

// wrongCode returns a well-formed code that differs from code.
func wrongCode(code string) string {
	if code == "123456" {
		return "654321"
	}
	return "123456"
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()

	require.Error(t, err)
	e := AsError(err)
	require.Equal(t, kind, e.Kind, "got %q", e.Error())
}
