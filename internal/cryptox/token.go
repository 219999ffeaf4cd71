package cryptox

import (
	"encoding/base64"

	"github.com/dmitrijs2005/studykeeper/internal/common"
)

const tokenByteLength = 16

// NewSecureToken returns an opaque, URL-safe token suitable for use as a
// reauthentication secret. Only the hash of the token is ever persisted.
func NewSecureToken() string {
	return base64.RawURLEncoding.EncodeToString(common.GenerateRandByteArray(tokenByteLength))
}
