// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the calling user. A bearer token signed with HS256 is
// preferred; its "sub" claim carries the numeric user ID. Deployments behind
// a trusted gateway may instead enable the X-User-ID header.
package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// userIDKey is the Gin context key holding the authenticated user (uint).
	userIDKey = "userID"
	// HeaderUserID is the gateway-provided identity header.
	HeaderUserID = "X-User-ID"
)

// AuthOptions configures Authenticate.
type AuthOptions struct {
	// Secret is the HS256 signing key. Empty disables bearer tokens.
	Secret []byte
	// AllowHeader trusts X-User-ID when no bearer token is sent.
	AllowHeader bool
}

var errBadSubject = errors.New("token subject is not a user id")

// Authenticate identifies the caller and stores the user ID in the Gin
// context. Requests without a usable identity are rejected with 401.
func Authenticate(opts AuthOptions) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		if raw, ok := bearer(c.GetHeader("Authorization")); ok && len(opts.Secret) > 0 {
			uid, err := subjectUserID(parser, raw, opts.Secret)
			if err != nil {
				LoggerFrom(c).Debug().Err(err).Msg("rejected bearer token")
				unauthorized(c)
				return
			}
			c.Set(userIDKey, uid)
			c.Next()
			return
		}

		if opts.AllowHeader {
			if n, err := strconv.ParseUint(strings.TrimSpace(c.GetHeader(HeaderUserID)), 10, 64); err == nil && n > 0 {
				c.Set(userIDKey, uint(n))
				c.Next()
				return
			}
		}
		unauthorized(c)
	}
}

// UserID returns the authenticated user stored by Authenticate.
func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id > 0
}

func bearer(h string) (string, bool) {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

func subjectUserID(p *jwt.Parser, raw string, secret []byte) (uint, error) {
	var claims jwt.RegisteredClaims
	if _, err := p.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}); err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || n == 0 {
		return 0, errBadSubject
	}
	return uint(n), nil
}

func unauthorized(c *gin.Context) {
	SetErrorCode(c, "unauthorized")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    "authentication required",
	})
}
