package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/rhizomelab/rhizome-backend/internal/handlers"
	"github.com/rhizomelab/rhizome-backend/internal/middleware"
	"github.com/rhizomelab/rhizome-backend/internal/platform/envutil"
)

type RouterConfig struct {
	AuthHandler       *handlers.AuthHandler
	AuthMiddleware    *middleware.AuthMiddleware
	AnnotationHandler *handlers.AnnotationHandler
	SparkHandler      *handlers.SparkHandler
	FlashcardHandler  *handlers.FlashcardHandler
	RecoveryHandler   *handlers.RecoveryHandler
	ImportHandler     *handlers.ImportHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("rhizome-backend"))
	router.Use(middleware.RequestID())

	origins := strings.Split(envutil.String("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173"), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// Public
	router.GET("/healthcheck", handlers.HealthCheck)
	router.POST("/register", cfg.AuthHandler.Register)
	router.POST("/login", cfg.AuthHandler.Login)
	router.POST("/refresh", cfg.AuthHandler.Refresh)

	// Protected
	protected := router.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())

	protected.POST("/logout", cfg.AuthHandler.Logout)

	// Annotations
	protected.POST("/documents/:document_id/annotations", cfg.AnnotationHandler.Create)
	protected.GET("/documents/:document_id/annotations", cfg.AnnotationHandler.List)
	protected.GET("/annotations/:id", cfg.AnnotationHandler.Get)
	protected.PATCH("/annotations/:id", cfg.AnnotationHandler.Update)
	protected.DELETE("/annotations/:id", cfg.AnnotationHandler.Delete)

	// Sparks
	protected.POST("/sparks", cfg.SparkHandler.Create)
	protected.GET("/sparks", cfg.SparkHandler.List)
	protected.GET("/sparks/:id", cfg.SparkHandler.Get)
	protected.PATCH("/sparks/:id", cfg.SparkHandler.Update)
	protected.DELETE("/sparks/:id", cfg.SparkHandler.Delete)

	// Flashcards
	protected.POST("/flashcards", cfg.FlashcardHandler.Create)
	protected.GET("/flashcards", cfg.FlashcardHandler.ListByDocument)
	protected.GET("/flashcards/due", cfg.FlashcardHandler.Due)
	protected.GET("/flashcards/:id", cfg.FlashcardHandler.Get)
	protected.PATCH("/flashcards/:id", cfg.FlashcardHandler.Update)
	protected.DELETE("/flashcards/:id", cfg.FlashcardHandler.Delete)
	protected.POST("/flashcards/:id/approve", cfg.FlashcardHandler.Approve)
	protected.POST("/flashcards/:id/review", cfg.FlashcardHandler.Review)
	protected.POST("/flashcards/:id/suspend", cfg.FlashcardHandler.Suspend)
	protected.POST("/flashcards/:id/resume", cfg.FlashcardHandler.Resume)

	// Recovery
	protected.POST("/documents/:document_id/recover", cfg.RecoveryHandler.RecoverDocument)
	protected.GET("/recovery/items", cfg.RecoveryHandler.ListItems)
	protected.POST("/recovery/:id/accept", cfg.RecoveryHandler.Accept)
	protected.POST("/recovery/:id/reject", cfg.RecoveryHandler.Reject)
	protected.POST("/recovery/:id/relink", cfg.RecoveryHandler.Relink)

	// Import
	protected.POST("/documents/:document_id/import", cfg.ImportHandler.ImportHighlights)

	return router
}
