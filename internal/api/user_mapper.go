package api

import (
	"time"

	"samadhan/internal/models"
)

// AdminIdentityView extends the public profile with moderation state.
type AdminIdentityView struct {
	*models.Profile
	Status    models.Status `json:"status"`
	IsActive  bool          `json:"isActive"`
	IsBanned  bool          `json:"isBanned"`
	BanReason *string       `json:"banReason,omitempty"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

func adminViewFromIdentity(ident *models.Identity) *AdminIdentityView {
	return &AdminIdentityView{
		Profile:   ident.Profile(),
		Status:    ident.Status,
		IsActive:  ident.IsActive,
		IsBanned:  ident.IsBanned,
		BanReason: ident.BanReason,
		UpdatedAt: ident.UpdatedAt,
	}
}
