package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/rentchat/internal/chat"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Identity is the authenticated actor behind a credential.
type Identity struct {
	ID   string
	Name string
	Role chat.Role
}

// Room returns the room a customer identity belongs to. Admins have none.
func (id Identity) Room() string {
	if id.Role != chat.RoleCustomer {
		return ""
	}
	return chat.CustomerRoomID(id.ID)
}

// CanAccess reports whether the identity may read or write roomID.
func (id Identity) CanAccess(roomID string) bool {
	if id.Role == chat.RoleAdmin {
		return chat.ValidRoomID(roomID)
	}
	return roomID == id.Room()
}

type claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens and mints them for tooling.
type Verifier struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewVerifier creates a verifier for the shared secret.
func NewVerifier(secret string, ttl time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth secret is empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Verifier{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for the identity.
func (v *Verifier) Issue(id Identity) (string, time.Time, error) {
	if id.ID == "" {
		return "", time.Time{}, errors.New("identity has no id")
	}
	if !id.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("unknown role %q", id.Role)
	}
	now := v.now()
	exp := now.Add(v.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Name: id.Name,
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses token and returns the identity it carries.
func (v *Verifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	role := chat.Role(c.Role)
	if !role.Valid() || c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: bad subject or role", ErrInvalidToken)
	}
	return Identity{ID: c.Subject, Name: c.Name, Role: role}, nil
}

// Peek reads the identity from a token without checking its signature.
// Clients use it to learn their own role; servers must use Verify.
func Peek(token string) (Identity, error) {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	role := chat.Role(c.Role)
	if !role.Valid() || c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: bad subject or role", ErrInvalidToken)
	}
	return Identity{ID: c.Subject, Name: c.Name, Role: role}, nil
}

// TokenFromRequest extracts the bearer credential from the Authorization
// header, falling back to the "token" query parameter used by browsers that
// cannot set headers on websocket handshakes.
func TokenFromRequest(r *http.Request) string {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
			return strings.TrimSpace(authz[7:])
		}
	}
	return r.URL.Query().Get("token")
}
