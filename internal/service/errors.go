package service

import (
	"errors"
	"strings"

	"github.com/vbonduro/wohnmap/internal/backend"
)

// User-facing messages.
const (
	MsgNoAccess            = "Kein Zugriff (Allowlist)."
	MsgWrongCredentials    = "Falsche Zugangsdaten."
	MsgFillStreetAndNumber = "Bitte Straße und Hausnummer ausfüllen."
	MsgNotSignedIn         = "Nicht eingeloggt."
	MsgConfigMissing       = "Umgebungsvariablen fehlen (.env.local prüfen)."
	MsgUploadBusy          = "Upload läuft bereits."
	MsgPhotoNotFound       = "Foto nicht gefunden."
	MsgAddressNotFound     = "Adresse nicht gefunden."
)

var (
	ErrBusy          = errors.New("upload already in progress")
	ErrPhotoNotFound = errors.New("photo not in gallery")
)

// ValidationError is a local input error. It never reaches the backend.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// UserMessage converts err into the text shown inline on the page. Backend
// rejections mentioning "permission" become MsgNoAccess; every other backend
// message is passed through verbatim.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if be, ok := backend.AsError(err); ok {
		if strings.Contains(be.Message, "permission") {
			return MsgNoAccess
		}
		return be.Message
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	switch {
	case errors.Is(err, ErrBusy):
		return MsgUploadBusy
	case errors.Is(err, ErrPhotoNotFound):
		return MsgPhotoNotFound
	}
	return err.Error()
}

// LoginMessage classifies a failed sign-in.
func LoginMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if be, ok := backend.AsError(err); ok {
		msg = be.Message
	}
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "invalid login"):
		return MsgWrongCredentials
	case strings.Contains(lower, "not allowed"):
		return MsgNoAccess
	default:
		return msg
	}
}
