package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"samadhan/internal/identity"
	"samadhan/internal/models"
)

type AuthHandler struct {
	service *identity.Service
	responder
}

func NewAuthHandler(service *identity.Service, exposeDetail bool) *AuthHandler {
	return &AuthHandler{service: service, responder: responder{exposeDetail: exposeDetail}}
}

type UserResponse struct {
	User *models.Profile `json:"user"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type RefreshResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type PendingVerificationResponse struct {
	UserID string `json:"userId"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req identity.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	result, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	message := "Registration successful"
	if result.NeedsVerification {
		if result.AuthMethod == models.AuthMethodPhone {
			message = "Registration successful. Enter the code sent to your phone"
		} else {
			message = "Registration successful. Check your email to verify your account"
		}
	}
	writeSuccess(w, http.StatusCreated, message, result)
}

// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req identity.LoginInput
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	result, err := h.service.Login(r.Context(), req)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	if result.NeedsVerification {
		writeJSON(w, http.StatusOK, Envelope{
			Success:           false,
			Message:           "Please verify your phone number. A new code has been sent",
			Data:              PendingVerificationResponse{UserID: result.UserID},
			NeedsVerification: true,
		})
		return
	}

	writeSuccess(w, http.StatusOK, "Login successful", result.Session)
}

// POST /api/auth/verify-phone
func (h *AuthHandler) VerifyPhone(w http.ResponseWriter, r *http.Request) {
	var req identity.VerifyPhoneInput
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	session, err := h.service.VerifyPhone(r.Context(), req)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Phone verified successfully", session)
}

// GET /api/auth/verify-email/{token}
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.VerifyEmail(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Email verified successfully. You can now log in", UserResponse{User: profile})
}

// POST /api/auth/resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req identity.ContactInput
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	if err := h.service.ResendVerification(r.Context(), req); err != nil {
		h.serviceError(w, r, err)
		return
	}

	message := "Verification email sent"
	if req.AuthMethod == models.AuthMethodPhone {
		message = "Verification code sent"
	}
	writeSuccess(w, http.StatusOK, message, nil)
}

// POST /api/auth/refresh-token
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Token refreshed", RefreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.AccessExpiresAt,
	})
}

// POST /api/auth/logout
//
// Logout always succeeds. A missing body, unknown token or anonymous caller
// leaves nothing to revoke.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	_ = decodeJSON(r, &req)

	h.service.Logout(r.Context(), IdentityFromContext(r.Context()), req.RefreshToken)
	writeSuccess(w, http.StatusOK, "Logged out successfully", nil)
}

// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ident := IdentityFromContext(r.Context())
	if ident == nil {
		h.serviceError(w, r, identity.ErrUnauthenticated)
		return
	}

	writeSuccess(w, http.StatusOK, "", UserResponse{User: h.service.CurrentProfile(ident)})
}

// POST /api/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req identity.ContactInput
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req); err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "If an account exists, password reset instructions have been sent", nil)
}

// POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req identity.ResetPasswordInput
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req); err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Password reset successfully. Please log in", nil)
}

// POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req identity.ChangePasswordInput
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	session, err := h.service.ChangePassword(r.Context(), IdentityFromContext(r.Context()), req)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Password changed", session)
}
