package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"samadhan/internal/imagehost"
)

// MediaFiles opens stored images by key.
type MediaFiles interface {
	Open(key string) (*os.File, error)
}

type MediaHandler struct {
	files MediaFiles
}

func NewMediaHandler(files MediaFiles) *MediaHandler {
	return &MediaHandler{files: files}
}

// GET /media/*
func (h *MediaHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "*"))
	if key == "" {
		notFound(w, "Media not found")
		return
	}

	file, err := h.files.Open(key)
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, imagehost.ErrInvalidPath) {
		notFound(w, "Media not found")
		return
	}
	if err != nil {
		internalError(w)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		notFound(w, "Media not found")
		return
	}

	name := sanitizeDispositionFilename(path.Base(key))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", fmt.Sprintf("\"%s\"", strings.TrimSuffix(name, path.Ext(name))))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if shouldForceDownload(r) {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", name))
	} else {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=\"%s\"", name))
	}

	http.ServeContent(w, r, name, info.ModTime(), file)
}

func sanitizeDispositionFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "download"
	}
	name = strings.ReplaceAll(name, "\\", "")
	name = strings.ReplaceAll(name, "\"", "")
	name = strings.ReplaceAll(name, "\r", "")
	name = strings.ReplaceAll(name, "\n", "")
	if name == "" {
		return "download"
	}
	return name
}

func shouldForceDownload(r *http.Request) bool {
	download := strings.TrimSpace(r.URL.Query().Get("download"))
	if download == "" {
		return false
	}

	force, err := strconv.ParseBool(download)
	if err != nil {
		return false
	}

	return force
}
