package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"samadhan/internal/identity"
)

type UserHandler struct {
	service *identity.Service
	responder
}

func NewUserHandler(service *identity.Service, exposeDetail bool) *UserHandler {
	return &UserHandler{service: service, responder: responder{exposeDetail: exposeDetail}}
}

type UpdateAvatarRequest struct {
	Image string `json:"image"`
}

// GET /api/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	ident := IdentityFromContext(r.Context())
	if ident == nil {
		h.serviceError(w, r, identity.ErrUnauthenticated)
		return
	}

	writeSuccess(w, http.StatusOK, "", UserResponse{User: h.service.CurrentProfile(ident)})
}

// PATCH /api/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req identity.UpdateProfileInput
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), IdentityFromContext(r.Context()), req)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Profile updated", UserResponse{User: profile})
}

// PUT /api/users/me/avatar
func (h *UserHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	var req UpdateAvatarRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	profile, err := h.service.UpdateAvatar(r.Context(), IdentityFromContext(r.Context()), req.Image)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Avatar updated", UserResponse{User: profile})
}

type AdminHandler struct {
	service *identity.Service
	responder
}

func NewAdminHandler(service *identity.Service, exposeDetail bool) *AdminHandler {
	return &AdminHandler{service: service, responder: responder{exposeDetail: exposeDetail}}
}

type BanRequest struct {
	Reason string `json:"reason"`
}

// GET /api/admin/users/{id}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	ident, err := h.service.GetIdentity(r.Context(), strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", adminViewFromIdentity(ident))
}

// POST /api/admin/users/{id}/ban
func (h *AdminHandler) Ban(w http.ResponseWriter, r *http.Request) {
	var req BanRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
	}

	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if caller := IdentityFromContext(r.Context()); caller != nil && caller.ID == id {
		h.serviceError(w, r, identity.ErrForbidden)
		return
	}

	ident, err := h.service.BanIdentity(r.Context(), id, req.Reason)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "User banned", adminViewFromIdentity(ident))
}

// POST /api/admin/users/{id}/unban
func (h *AdminHandler) Unban(w http.ResponseWriter, r *http.Request) {
	ident, err := h.service.UnbanIdentity(r.Context(), strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "User unbanned", adminViewFromIdentity(ident))
}
