// Package identity canonicalizes student contact identifiers so the same
// person maps to one Student record.
package identity

import (
	"errors"
	"strings"
	"unicode"
)

// ErrMalformedEmail is returned for a non-empty email without an "@".
var ErrMalformedEmail = errors.New("malformed email")

const gmailDomain = "gmail.com"

// NormalizeEmail lower-cases the address and folds gmail aliases: the local
// part loses every "." and anything from the first "+". It returns nil for
// an empty address.
func NormalizeEmail(raw string) (*string, error) {
	if raw == "" {
		return nil, nil
	}
	email := strings.ToLower(raw)
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return nil, ErrMalformedEmail
	}
	local, domain := email[:at], email[at+1:]
	if domain == gmailDomain {
		if plus := strings.IndexByte(local, '+'); plus >= 0 {
			local = local[:plus]
		}
		local = strings.ReplaceAll(local, ".", "")
	}
	out := local + "@" + domain
	return &out, nil
}

// NormalizePhone keeps the decimal digits of raw. It returns nil when no
// digit is left.
func NormalizePhone(raw string) *string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r <= unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	out := b.String()
	return &out
}

// Identity is a normalized email and phone pair. Either may be nil.
type Identity struct {
	Email *string
	Phone *string
}

// Empty reports whether neither identifier is present.
func (i Identity) Empty() bool { return i.Email == nil && i.Phone == nil }

// Normalize canonicalizes both identifiers. Nil inputs are treated as absent.
func Normalize(email, phone *string) (Identity, error) {
	var id Identity
	if email != nil {
		e, err := NormalizeEmail(*email)
		if err != nil {
			return Identity{}, err
		}
		id.Email = e
	}
	if phone != nil {
		id.Phone = NormalizePhone(*phone)
	}
	return id, nil
}
