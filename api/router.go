package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tss-coordinator/api/handlers"
	"tss-coordinator/internal/auth"
	"tss-coordinator/internal/session"
)

// Options wires the router to the orchestrator.
type Options struct {
	Service handlers.Service
	Tokens  *auth.Issuer
	APIKeys map[string]string // api key -> customer id
}

// SetupRouter configures the routes for the application.
func SetupRouter(opts Options) *gin.Engine {
	router := gin.Default()

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handlers.New(opts.Service)

	tss := router.Group("/tss", handlers.APIKeyAuth(opts.APIKeys))
	{
		tss.POST("/v1/keygen", h.Keygen)
		tss.POST("/v2/keygen", h.KeygenV2)
		tss.GET("/v1/keyshare/nodes/status", h.NodeStatus)
	}

	v1 := tss.Group("/v1", handlers.BearerAuth(opts.Tokens))
	{
		v1.POST("/session", h.CreateSession)
		v1.POST("/session/abort", h.AbortSession)

		for step := 1; step <= session.StageTriples.Steps(); step++ {
			v1.POST(fmt.Sprintf("/triples/step%d", step), h.Triples(step))
		}
		for step := 1; step <= session.StagePresign.Steps(); step++ {
			v1.POST(fmt.Sprintf("/presign/step%d", step), h.Presign(step))
		}
		for step := 1; step <= session.StageSign.Steps(); step++ {
			v1.POST(fmt.Sprintf("/sign/step%d", step), h.Sign(step))
		}

		v1.POST("/keyshare/recover", h.Recover)
		v1.POST("/keyshare/reshare", h.Reshare)
	}

	return router
}
