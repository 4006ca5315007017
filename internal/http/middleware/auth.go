// README: JWT bearer auth; token issuance lives in the auth service, this
// middleware only validates and resolves the requesting member.
package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"unipool/internal/types"
)

const memberIDKey = "memberID"

type Claims struct {
	MemberID int64 `json:"member_id"`
	jwt.RegisteredClaims
}

func Auth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		})
		if err != nil || !token.Valid || claims.MemberID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(memberIDKey, types.ID(claims.MemberID))
		c.Next()
	}
}

// MemberID returns the authenticated member set by Auth.
func MemberID(c *gin.Context) (types.ID, bool) {
	v, ok := c.Get(memberIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(types.ID)
	return id, ok
}

// SignToken mints an HS256 token for a member; used by the auth service and
// by tests.
func SignToken(secret string, memberID types.ID, ttl time.Duration) (string, error) {
	claims := Claims{
		MemberID: int64(memberID),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "unipool",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
