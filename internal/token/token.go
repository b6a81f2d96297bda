// Package token derives the confirm/cancel link tokens. A token is a keyed
// MAC over the booking's stable identity, so reissuing for the same booking
// always yields the same string and the email can be regenerated at any time.
// Revocation is implicit through booking status, not token expiry.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

type Authority struct {
	key []byte
}

func NewAuthority(signingKey string) *Authority {
	return &Authority{key: []byte(signingKey)}
}

func (a *Authority) Issue(bookingID, externalEventID string) string {
	mac := hmac.New(sha256.New, a.key)
	mac.Write([]byte(bookingID))
	mac.Write([]byte("."))
	mac.Write([]byte(externalEventID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the MAC and compares in constant time.
func (a *Authority) Verify(tok, bookingID, externalEventID string) bool {
	expected := a.Issue(bookingID, externalEventID)
	return hmac.Equal([]byte(tok), []byte(expected))
}
