package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"samadhan/internal/auth"
	"samadhan/internal/models"
)

func TestEmailRegistrationRequiresVerificationBeforeLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.registerEmail(t, "Asha@Example.com ")
	require.NotEmpty(t, res.UserID)
	require.Equal(t, models.AuthMethodEmail, res.AuthMethod)
	require.False(t, res.IsVerified)
	require.True(t, res.NeedsVerification)

	token := h.mail.verification("asha@example.com")
	require.Len(t, token, 64)

	_, err := h.svc.Login(ctx, LoginInput{Email: "asha@example.com", Password: testPassword, AuthMethod: "email"})
	requireKind(t, err, KindEmailNotVerified)

	profile, err := h.svc.VerifyEmail(ctx, token)
	require.NoError(t, err)
	require.True(t, profile.IsVerified)
	require.Equal(t, res.UserID, profile.ID)

	login, err := h.svc.Login(ctx, LoginInput{Email: "asha@example.com", Password: testPassword, AuthMethod: "email"})
	require.NoError(t, err)
	require.NotNil(t, login.Session)
	require.False(t, login.NeedsVerification)
	require.NotNil(t, login.Session.User.LastLoginAt)

	identity, err := h.svc.Authenticate(ctx, login.Session.AccessToken)
	require.NoError(t, err)
	require.Equal(t, res.UserID, identity.ID)
}

func TestVerifyEmailTokenIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.registerEmail(t, "asha@example.com")
	token := h.mail.verification("asha@example.com")

	_, err := h.svc.VerifyEmail(ctx, token)
	require.NoError(t, err)

	_, err = h.svc.VerifyEmail(ctx, token)
	requireKind(t, err, KindInvalidOrExpiredToken)
}

func TestVerifyEmailRejectsExpiredAndReplacedTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.registerEmail(t, "asha@example.com")
	first := h.mail.verification("asha@example.com")

	require.NoError(t, h.svc.ResendVerification(ctx, ContactInput{Email: "asha@example.com", AuthMethod: "email"}))
	second := h.mail.verification("asha@example.com")
	require.NotEqual(t, first, second)

	_, err := h.svc.VerifyEmail(ctx, first)
	requireKind(t, err, KindInvalidOrExpiredToken)

	h.clock.Advance(25 * time.Hour)
	_, err = h.svc.VerifyEmail(ctx, second)
	requireKind(t, err, KindInvalidOrExpiredToken)
}

func TestVerifyEmailUnknownToken(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.VerifyEmail(context.Background(), "deadbeef")
	requireKind(t, err, KindInvalidOrExpiredToken)

	_, err = h.svc.VerifyEmail(context.Background(), "")
	requireKind(t, err, KindInvalidOrExpiredToken)
}

func TestRegisterDuplicateContact(t *testing.T) {
	h := newHarness(t)

	h.registerEmail(t, "asha@example.com")
	_, err := h.svc.Register(context.Background(), RegisterInput{
		Name:       "Someone Else",
		Email:      "ASHA@example.com",
		Password:   testPassword,
		AuthMethod: "email",
	})
	requireKind(t, err, KindDuplicate)
	require.Equal(t, "email", AsError(err).Field)

	h.registerPhone(t, testPhone)
	_, err = h.svc.Register(context.Background(), RegisterInput{
		Name:       "Someone Else",
		Phone:      "+91 98765 43210",
		AuthMethod: "phone",
	})
	requireKind(t, err, KindDuplicate)
	require.Equal(t, "phone", AsError(err).Field)
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		in     RegisterInput
		fields []string
	}{
		{
			name:   "email method needs email and password",
			in:     RegisterInput{Name: "Asha Rao", AuthMethod: "email"},
			fields: []string{"email", "password"},
		},
		{
			name:   "phone method needs phone",
			in:     RegisterInput{Name: "Asha Rao", AuthMethod: "phone"},
			fields: []string{"phone"},
		},
		{
			name:   "unknown method",
			in:     RegisterInput{Name: "Asha Rao", AuthMethod: "carrier-pigeon"},
			fields: []string{"authMethod"},
		},
		{
			name:   "weak password",
			in:     RegisterInput{Name: "Asha Rao", Email: "a@example.com", Password: "alllower1", AuthMethod: "email"},
			fields: []string{"password"},
		},
		{
			name:   "bad email and short name",
			in:     RegisterInput{Name: "A", Email: "not-an-email", Password: testPassword, AuthMethod: "email"},
			fields: []string{"name", "email"},
		},
		{
			name:   "markup-only name",
			in:     RegisterInput{Name: "<script>x</script>", Email: "a@example.com", Password: testPassword, AuthMethod: "email"},
			fields: []string{"name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Register(context.Background(), tt.in)
			requireKind(t, err, KindValidation)
			for _, field := range tt.fields {
				require.Contains(t, AsError(err).Fields, field)
			}
		})
	}
}

func TestPhoneLoginSoftFailsUntilVerified(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.registerPhone(t, testPhone)
	require.True(t, res.NeedsVerification)
	require.Equal(t, 1, h.sms.count())
	first := h.sms.code(testPhone)
	require.Len(t, first, 6)

	login, err := h.svc.Login(ctx, LoginInput{Phone: testPhone, AuthMethod: "phone"})
	require.NoError(t, err)
	require.True(t, login.NeedsVerification)
	require.Nil(t, login.Session)
	require.Equal(t, res.UserID, login.UserID)
	require.Equal(t, 2, h.sms.count())

	session, err := h.svc.VerifyPhone(ctx, VerifyPhoneInput{
		Phone:    testPhone,
		Code:     h.sms.code(testPhone),
		Password: testPassword,
	})
	require.NoError(t, err)
	require.True(t, session.User.IsVerified)
	require.NotEmpty(t, session.RefreshToken)

	login, err = h.svc.Login(ctx, LoginInput{Phone: testPhone, Password: testPassword, AuthMethod: "phone"})
	require.NoError(t, err)
	require.NotNil(t, login.Session)

	_, err = h.svc.Login(ctx, LoginInput{Phone: testPhone, Password: "Wrong1234", AuthMethod: "phone"})
	requireKind(t, err, KindInvalidCredentials)
}

func TestPhoneRegistrationSurvivesSMSFailure(t *testing.T) {
	h := newHarness(t)
	h.sms.err = errors.New("carrier down")

	res := h.registerPhone(t, testPhone)
	require.True(t, res.NeedsVerification)
	require.Equal(t, 1, h.sms.count())
}

func TestVerifiedPhoneWithoutPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.registerPhone(t, testPhone)
	_, err := h.svc.VerifyPhone(ctx, VerifyPhoneInput{Phone: testPhone, Code: h.sms.code(testPhone)})
	require.NoError(t, err)

	_, err = h.svc.Login(ctx, LoginInput{Phone: testPhone, Password: testPassword, AuthMethod: "phone"})
	requireKind(t, err, KindPasswordNotSet)

	_, err = h.svc.VerifyPhone(ctx, VerifyPhoneInput{Phone: testPhone, Code: "123456"})
	requireKind(t, err, KindAlreadyVerified)
}

func TestVerifyPhoneCodeExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.registerPhone(t, testPhone)
	code := h.sms.code(testPhone)

	h.clock.Advance(11 * time.Minute)
	_, err := h.svc.VerifyPhone(ctx, VerifyPhoneInput{Phone: testPhone, Code: code})
	requireKind(t, err, KindInvalidOrExpiredToken)
}

func TestVerifyPhoneTooManyAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.registerPhone(t, testPhone)
	code := h.sms.code(testPhone)
	bad := wrongCode(code)

	for i := 0; i < 5; i++ {
		_, err := h.svc.VerifyPhone(ctx, VerifyPhoneInput{Phone: testPhone, Code: bad})
		requireKind(t, err, KindInvalidOrExpiredToken)
	}

	_, err := h.svc.VerifyPhone(ctx, VerifyPhoneInput{Phone: testPhone, Code: code})
	requireKind(t, err, KindTooManyAttempts)

	require.NoError(t, h.svc.ResendVerification(ctx, ContactInput{Phone: testPhone, AuthMethod: "phone"}))
	_, err = h.svc.VerifyPhone(ctx, VerifyPhoneInput{Phone: testPhone, Code: h.sms.code(testPhone)})
	require.NoError(t, err)
}

func TestVerifyPhoneUnknownNumber(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.VerifyPhone(context.Background(), VerifyPhoneInput{Phone: testPhone, Code: "123456"})
	requireKind(t, err, KindNotFound)
}

func TestResendVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.svc.ResendVerification(ctx, ContactInput{Email: "nobody@example.com", AuthMethod: "email"})
	requireKind(t, err, KindNotFound)

	h.verifiedEmailSession(t, "asha@example.com")
	err = h.svc.ResendVerification(ctx, ContactInput{Email: "asha@example.com", AuthMethod: "email"})
	requireKind(t, err, KindAlreadyVerified)
}

func TestLoginUnknownAndWrongPasswordLookAlike(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.verifiedEmailSession(t, "asha@example.com")

	_, err := h.svc.Login(ctx, LoginInput{Email: "nobody@example.com", Password: testPassword, AuthMethod: "email"})
	requireKind(t, err, KindInvalidCredentials)
	unknown := AsError(err)

	_, err = h.svc.Login(ctx, LoginInput{Email: "asha@example.com", Password: "Wrong1234", AuthMethod: "email"})
	requireKind(t, err, KindInvalidCredentials)
	require.Equal(t, unknown.Message, AsError(err).Message)
}

func TestRefreshRotatesAndRejectsReuse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session := h.verifiedEmailSession(t, "asha@example.com")

	pair, err := h.svc.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, session.RefreshToken, pair.RefreshToken)
	require.NotEqual(t, session.AccessToken, pair.AccessToken)

	_, err = h.svc.Refresh(ctx, session.RefreshToken)
	requireKind(t, err, KindInvalidRefreshToken)

	next, err := h.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	identity, err := h.svc.Authenticate(ctx, next.AccessToken)
	require.NoError(t, err)
	require.Equal(t, session.User.ID, identity.ID)
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	h := newHarness(t)
	session := h.verifiedEmailSession(t, "asha@example.com")

	const workers = 8
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := h.svc.Refresh(context.Background(), session.RefreshToken); err == nil {
				winners.Add(1)
			} else if !errors.Is(err, ErrInvalidRefreshToken) {
				t.Errorf("unexpected refresh error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), winners.Load())
}

func TestRefreshRejectsWrongTokenTypes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session := h.verifiedEmailSession(t, "asha@example.com")

	_, err := h.svc.Refresh(ctx, session.AccessToken)
	requireKind(t, err, KindInvalidRefreshToken)

	_, err = h.svc.Refresh(ctx, "")
	requireKind(t, err, KindInvalidRefreshToken)

	_, err = h.svc.Authenticate(ctx, session.RefreshToken)
	requireKind(t, err, KindInvalidToken)

	_, err = h.svc.Authenticate(ctx, "garbage")
	requireKind(t, err, KindInvalidToken)
}

func TestAccessTokenExpires(t *testing.T) {
	h := newHarness(t)
	session := h.verifiedEmailSession(t, "asha@example.com")

	h.clock.Advance(16 * time.Minute)
	_, err := h.svc.Authenticate(context.Background(), session.AccessToken)
	requireKind(t, err, KindTokenExpired)
}

func TestLogoutOnlyRevokesCallerToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	asha := h.verifiedEmailSession(t, "asha@example.com")
	ravi := h.verifiedEmailSession(t, "ravi@example.com")

	raviIdentity, err := h.svc.Authenticate(ctx, ravi.AccessToken)
	require.NoError(t, err)
	h.svc.Logout(ctx, raviIdentity, asha.RefreshToken)

	pair, err := h.svc.Refresh(ctx, asha.RefreshToken)
	require.NoError(t, err)

	ashaIdentity, err := h.svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	h.svc.Logout(ctx, ashaIdentity, pair.RefreshToken)

	_, err = h.svc.Refresh(ctx, pair.RefreshToken)
	requireKind(t, err, KindInvalidRefreshToken)

	h.svc.Logout(ctx, nil, pair.RefreshToken)
	h.svc.Logout(ctx, ashaIdentity, "")
}

func TestBanRevokesSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session := h.verifiedEmailSession(t, "asha@example.com")

	banned, err := h.svc.BanIdentity(ctx, session.User.ID, "<b>spam</b>")
	require.NoError(t, err)
	require.True(t, banned.IsBanned)
	require.NotNil(t, banned.BanReason)
	require.Equal(t, "spam", *banned.BanReason)

	_, err = h.svc.Authenticate(ctx, session.AccessToken)
	requireKind(t, err, KindAccountDisabled)

	_, err = h.svc.Refresh(ctx, session.RefreshToken)
	requireKind(t, err, KindInvalidRefreshToken)

	_, err = h.svc.Login(ctx, LoginInput{Email: "asha@example.com", Password: testPassword, AuthMethod: "email"})
	requireKind(t, err, KindAccountDisabled)

	_, err = h.svc.UnbanIdentity(ctx, session.User.ID)
	require.NoError(t, err)

	_, err = h.svc.Login(ctx, LoginInput{Email: "asha@example.com", Password: testPassword, AuthMethod: "email"})
	require.NoError(t, err)

	_, err = h.svc.BanIdentity(ctx, "usr_missing", "")
	requireKind(t, err, KindNotFound)
}

func TestAutoVerifySkipsChallenges(t *testing.T) {
	h := newHarness(t, withAutoVerify())
	ctx := context.Background()

	res := h.registerEmail(t, "asha@example.com")
	require.True(t, res.IsVerified)
	require.False(t, res.NeedsVerification)
	require.Empty(t, h.mail.verification("asha@example.com"))

	login, err := h.svc.Login(ctx, LoginInput{Email: "asha@example.com", Password: testPassword, AuthMethod: "email"})
	require.NoError(t, err)
	require.NotNil(t, login.Session)
}

func TestTokenPairOutlivesAccessTTL(t *testing.T) {
	h := newHarness(t)
	session := h.verifiedEmailSession(t, "asha@example.com")

	claims, err := auth.NewTokenService("access-secret-for-tests-only-000000", "refresh-secret-for-tests-only-00000", 15*time.Minute, 7*24*time.Hour).
		WithClock(h.clock.Now).
		ParseRefreshToken(session.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, session.User.ID, claims.UserID)
	require.True(t, claims.ExpiresAt.Time.After(session.ExpiresAt))
}
