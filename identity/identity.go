// Package identity resolves the identity string a session is bound to
// for its whole lifetime. Resolution happens once, at upgrade time,
// before the session's flows start; the session reuses the resolved
// value at close time instead of any placeholder.
package identity

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	guestPrefix       = "guest-"
	guestIDLength     = 8
	maxIdentityLength = 128
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoIdentity   = errors.New("token carries no identity")
)

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Resolver struct {
	secret []byte
	logger zerolog.Logger
}

func NewResolver(secret []byte, logger *zerolog.Logger) *Resolver {
	return &Resolver{
		secret: secret,
		logger: logger.With().Str("component", "identity").Logger(),
	}
}

// Resolve returns the identity for one incoming connection. A bearer
// token (Authorization header or "token" query parameter) is validated
// as an HS256 JWT and its username claim (falling back to sub) becomes
// the identity. Without a token, or with no secret configured, the
// session gets a generated guest identity instead.
func (r *Resolver) Resolve(req *http.Request) (string, error) {
	token := bearerToken(req)
	if token == "" || len(r.secret) == 0 {
		return r.guest()
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}

	name := claims.Username
	if name == "" {
		name = claims.Subject
	}
	if name == "" || len(name) > maxIdentityLength {
		return "", ErrNoIdentity
	}
	return name, nil
}

func (r *Resolver) guest() (string, error) {
	id, err := nanoid.New(guestIDLength)
	if err != nil {
		return "", err
	}
	name := guestPrefix + id
	r.logger.Debug().Str("identity", name).Msg("issued guest identity")
	return name, nil
}

func bearerToken(req *http.Request) string {
	if h := req.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return req.URL.Query().Get("token")
}
