package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Router struct {
	Handler *Handler
}

func NewRouter(handler *Handler) *Router {
	return &Router{
		Handler: handler,
	}
}

func (rtr *Router) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(), CorsMiddleware())

	router.GET("/health", rtr.Handler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", rtr.Handler.Status)       // host metrics, card space, feed state
		v1.GET("/volume", rtr.Handler.Volume)       // recursive card listing
		v1.GET("/transfers", rtr.Handler.Transfers) // recent transfer history
	}

	// everything else is looked up on the card, then in the built-in pages
	router.NoRoute(rtr.Handler.Card)

	return router
}

// Server wraps the router in an http.Server listening on addr.
func (rtr *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           rtr.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
