package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jengzang/fieldscan-backend-go/pkg/response"
)

// Context keys set by Auth
const (
	OrganizationKey = "organization_id"
	SubjectKey      = "subject"
)

// Claims 访问令牌声明
type Claims struct {
	OrganizationID string `json:"org"`
	jwt.RegisteredClaims
}

// ParseToken validates an HS256 token and returns its claims
func ParseToken(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.OrganizationID == "" {
		return nil, errors.New("token has no organization")
	}
	return claims, nil
}

// SignToken issues a token for an organization. Used by operators and tests.
func SignToken(secret, organizationID, subject string) (string, error) {
	claims := Claims{
		OrganizationID:   organizationID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Auth requires a bearer token and stores its organization and subject in
// the gin context
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			abortUnauthorized(c, "Missing bearer token")
			return
		}

		claims, err := ParseToken(token, secret)
		if err != nil {
			abortUnauthorized(c, "Invalid token")
			return
		}

		c.Set(OrganizationKey, claims.OrganizationID)
		c.Set(SubjectKey, claims.Subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	response.Abort(c, http.StatusUnauthorized, message)
}
