/*
auth.go - Bearer token identity

PURPOSE:
  Every /api route acts for one shop and one user. Both come from a signed
  HS256 JWT issued by the account service; this package only verifies
  tokens, it never issues them outside of tests and tooling.

CLAIMS:
  shop_id  tenant the request is scoped to (required)
  user_id  acting user, recorded on sales, voids and ledger entries
  role     OWNER, MANAGER or CASHIER

PERMISSIONS:
  OWNER, MANAGER: everything
  CASHIER:        sell and read
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/pos-engine/pos"
)

type Role string

const (
	RoleOwner   Role = "OWNER"
	RoleManager Role = "MANAGER"
	RoleCashier Role = "CASHIER"
)

// Claims is the payload of an access token.
type Claims struct {
	ShopID string `json:"shop_id"`
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the verified caller of a request.
type Identity struct {
	ShopID pos.ShopID
	UserID pos.UserID
	Role   Role
}

type identityKey struct{}

// IdentityFrom returns the identity stored by Authenticate.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// NewToken signs claims for the given identity. Used by tests and tooling.
func NewToken(secret []byte, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		ShopID: string(id.ShopID),
		UserID: string(id.UserID),
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies the signature and expiry and returns the identity.
func ParseToken(secret []byte, tokenString string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, err
	}
	if !token.Valid {
		return Identity{}, errors.New("invalid token")
	}
	if claims.ShopID == "" {
		return Identity{}, errors.New("token has no shop_id")
	}
	switch claims.Role {
	case RoleOwner, RoleManager, RoleCashier:
	default:
		return Identity{}, errors.New("token has an unknown role")
	}
	return Identity{
		ShopID: pos.ShopID(claims.ShopID),
		UserID: pos.UserID(claims.UserID),
		Role:   claims.Role,
	}, nil
}

// Authenticate rejects requests without a valid bearer token.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
				return
			}
			id, err := ParseToken(secret, tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token", err)
				return
			}
			ctx := context.WithValue(r.Context(), identityKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets through only callers holding one of roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "Role "+string(id.Role)+" may not do this", nil)
		})
	}
}
