// Package httpapi exposes the platform over JSON. Handlers stay thin:
// bind, authorize, call the domain service, map the error kind to a
// status code.
package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"travelmatch/catalog"
	"travelmatch/dispute"
	"travelmatch/escrow"
	"travelmatch/identity"
	"travelmatch/match"
	"travelmatch/matching"
)

// Server wires the domain services behind the HTTP surface.
type Server struct {
	identity *identity.Service
	catalog  catalog.Store
	engine   *matching.Engine
	coord    *match.Coordinator
	ledger   *escrow.Ledger
	resolver *dispute.Resolver
	log      *zap.Logger
}

func NewServer(
	identitySvc *identity.Service,
	catalogStore catalog.Store,
	engine *matching.Engine,
	coord *match.Coordinator,
	ledger *escrow.Ledger,
	resolver *dispute.Resolver,
	log *zap.Logger,
) *Server {
	return &Server{
		identity: identitySvc,
		catalog:  catalogStore,
		engine:   engine,
		coord:    coord,
		ledger:   ledger,
		resolver: resolver,
		log:      log,
	}
}

// Router builds the gin engine with middleware and all routes mounted.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	v1 := router.Group("/api/v1")

	v1.POST("/auth/register", s.register)
	v1.POST("/auth/login", s.login)

	authed := v1.Group("")
	authed.Use(s.authRequired())
	{
		authed.GET("/me", s.me)

		authed.POST("/requests", s.createRequest)
		authed.GET("/requests", s.listRequests)
		authed.GET("/requests/:id", s.getRequest)
		authed.GET("/requests/:id/candidates", s.findCandidates)

		authed.POST("/offers", s.createOffer)
		authed.GET("/offers/:id", s.getOffer)

		authed.POST("/matches", s.commitMatch)
		authed.DELETE("/matches/:requestID", s.cancelMatch)

		authed.GET("/payments/:id", s.getPayment)
		authed.POST("/payments/:id/release", s.releasePayment)
		authed.GET("/payments/:id/disputes", s.listDisputes)

		authed.POST("/disputes", s.openDispute)
		authed.GET("/disputes/:id", s.getDispute)

		admin := authed.Group("")
		admin.Use(s.adminOnly())
		{
			admin.POST("/disputes/:id/review", s.reviewDispute)
			admin.POST("/disputes/:id/resolve", s.resolveDispute)
		}
	}

	return router
}
