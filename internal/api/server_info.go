package api

import (
	"net/http"

	"samadhan/internal/models"
)

type ServerInfoHandler struct {
	serverName string
	uploadMax  int64
}

func NewServerInfoHandler(name string, uploadMax int64) *ServerInfoHandler {
	return &ServerInfoHandler{
		serverName: name,
		uploadMax:  uploadMax,
	}
}

type ServerInfoResponse struct {
	Name           string              `json:"name"`
	AuthMethods    []models.AuthMethod `json:"authMethods"`
	UploadMaxBytes int64               `json:"uploadMaxBytes"`
}

// GET /api/server/info
func (h *ServerInfoHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "", ServerInfoResponse{
		Name:           h.serverName,
		AuthMethods:    []models.AuthMethod{models.AuthMethodEmail, models.AuthMethodPhone},
		UploadMaxBytes: h.uploadMax,
	})
}
