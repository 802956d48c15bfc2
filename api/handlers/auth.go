package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"tss-coordinator/internal/auth"
	"tss-coordinator/internal/errcode"
)

const (
	// APIKeyHeader carries the customer's api key.
	APIKeyHeader = "x-api-key"

	customerKey = "customer_id"
	callerKey   = "caller"
)

// APIKeyAuth resolves the customer from the api key header.
func APIKeyAuth(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		customer, ok := keys[key]
		if key == "" || !ok {
			fail(c, errcode.New(errcode.Unauthorized, "missing or unknown api key"))
			return
		}
		c.Set(customerKey, customer)
		c.Next()
	}
}

// BearerAuth resolves the calling user from the token issued at keygen. The
// token must belong to the customer named by the api key.
func BearerAuth(tokens *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			fail(c, errcode.New(errcode.Unauthorized, "missing bearer token"))
			return
		}
		caller, err := tokens.Parse(raw)
		if err != nil {
			fail(c, errcode.Wrap(errcode.Unauthorized, err, "invalid bearer token"))
			return
		}
		if caller.CustomerID != c.GetString(customerKey) {
			fail(c, errcode.New(errcode.Unauthorized, "token belongs to another customer"))
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerOf(c *gin.Context) auth.Caller {
	v, _ := c.Get(callerKey)
	caller, _ := v.(auth.Caller)
	return caller
}
