package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"samadhan/internal/constants"
)

var errPayloadTooLarge = errors.New("request body too large")

// decodeJSON reads exactly one JSON value into dst. Unknown fields and
// trailing data are rejected. Field validation happens in the service.
func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errPayloadTooLarge
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required")
		}
		return fmt.Errorf("invalid JSON body")
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body")
	}

	return nil
}

// writeDecodeError answers a decodeJSON failure.
func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errPayloadTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, constants.ErrCodePayloadTooLarge, "Request body too large")
		return
	}
	badRequest(w, err.Error())
}
