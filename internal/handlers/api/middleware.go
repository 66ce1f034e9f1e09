package api

import (
	"time"

	"github.com/Martin-Hayot/auction-house/internal/auth"
	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// RequestLogger logs incoming requests with timing.
func RequestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		)
	}
}

// Authenticate resolves the caller and stores the identity on the context.
func Authenticate(authn auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := authn.Authenticate(c.Request)
		if err != nil {
			JSONError(c, err)
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// RequireRole lets the request through when the caller holds one of roles.
// Admins pass every check.
func RequireRole(roles ...types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := identityOf(c)
		if identity.Role == types.RoleAdmin {
			c.Next()
			return
		}
		for _, role := range roles {
			if identity.Role == role {
				c.Next()
				return
			}
		}
		JSONError(c, errors.Newf(errors.KindForbidden, "role %s may not do this", identity.Role))
	}
}

func identityOf(c *gin.Context) types.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return types.Identity{}
	}
	identity, _ := v.(types.Identity)
	return identity
}
