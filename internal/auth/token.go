// Package auth issues and verifies player claim tokens.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

const tokenVersion = "v1"

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("bad token signature")
)

// Signer mints tokens of the form v1.<key>.<issued-at>.<mac>, where mac is a keyed
// BLAKE2b-256 over the first three parts. Tokens do not expire; a player keeps theirs
// for the whole season.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("token secret must be at least 16 bytes")
	}
	if len(secret) > blake2b.Size {
		sum := blake2b.Sum256([]byte(secret))
		return &Signer{secret: sum[:], now: time.Now}, nil
	}
	return &Signer{secret: []byte(secret), now: time.Now}, nil
}

func (s *Signer) Issue(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", ErrMalformedToken
	}
	body := tokenVersion + "." + base64.RawURLEncoding.EncodeToString([]byte(key)) + "." + strconv.FormatInt(s.now().UnixMilli(), 10)
	mac, err := s.mac(body)
	if err != nil {
		return "", err
	}
	return body + "." + base64.RawURLEncoding.EncodeToString(mac), nil
}

// Verify returns the player key the token was issued for.
func (s *Signer) Verify(token string) (string, error) {
	token = strings.TrimPrefix(strings.TrimSpace(token), "Bearer ")
	parts := strings.Split(token, ".")
	if len(parts) != 4 || parts[0] != tokenVersion {
		return "", ErrMalformedToken
	}
	got, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return "", ErrMalformedToken
	}
	want, err := s.mac(strings.Join(parts[:3], "."))
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return "", ErrBadSignature
	}
	key, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || len(key) == 0 {
		return "", ErrMalformedToken
	}
	return string(key), nil
}

func (s *Signer) mac(body string) ([]byte, error) {
	h, err := blake2b.New256(s.secret)
	if err != nil {
		return nil, err
	}
	_, _ = h.Write([]byte(body))
	return h.Sum(nil), nil
}
