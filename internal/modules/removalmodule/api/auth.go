package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrDownloadDenied is returned when a download is not approved.
var ErrDownloadDenied = errors.New("download not authorized")

// DownloadAuthorizer approves releasing an asset. subject is the session ID
// or the content hash being fetched.
type DownloadAuthorizer interface {
	AuthorizeDownload(r *http.Request, subject string) error
}

// AllowAll approves every download.
type AllowAll struct{}

func (AllowAll) AuthorizeDownload(*http.Request, string) error { return nil }

// TokenAuthorizer approves requests carrying a shared token, either as a
// bearer credential or in the token query parameter.
type TokenAuthorizer struct {
	token []byte
}

// NewTokenAuthorizer returns AllowAll for an empty token.
func NewTokenAuthorizer(token string) DownloadAuthorizer {
	if token == "" {
		return AllowAll{}
	}
	return &TokenAuthorizer{token: []byte(token)}
}

func (a *TokenAuthorizer) AuthorizeDownload(r *http.Request, _ string) error {
	presented := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		presented = strings.TrimPrefix(auth, "Bearer ")
	}
	if presented == "" || subtle.ConstantTimeCompare([]byte(presented), a.token) != 1 {
		return ErrDownloadDenied
	}
	return nil
}
