package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"wellness-sessions/internal/bootstrap"
	"wellness-sessions/internal/transport/http/handler"
	"wellness-sessions/internal/transport/http/middleware"
	"wellness-sessions/internal/transport/http/response"
)

// NewHandler returns the router wrapped with CORS, per-IP rate limiting and
// tracing. This is what the server listens with.
func NewHandler(app *bootstrap.App) http.Handler {
	var h http.Handler = NewRouter(app)

	if rpm := app.Config.RateLimit.RequestsPerMinute; rpm > 0 {
		h = httprate.Limit(rpm, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"success":false,"code":42900,"message":"too many requests"}`))
			}),
		)(h)
	}

	allowed := app.Config.CORS.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	h = cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	})(h)

	return otelhttp.NewHandler(h, app.Config.App.Name)
}

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(app.Logger), gin.Recovery())
	router.NoRoute(func(c *gin.Context) {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "route not found")
	})

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authService := app.NewAuthService()
	sessionService := app.NewSessionService()
	authHandler := handler.NewAuthHandler(authService)
	sessionHandler := handler.NewSessionHandler(sessionService, app.Logger)
	requireAuth := middleware.AuthJWT(app.Config.Auth.JWTSecret)

	api := router.Group("/api")
	authGroup := api.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", requireAuth, authHandler.Me)

	sessions := api.Group("/sessions")
	sessions.GET("", sessionHandler.ListPublished)

	mine := sessions.Group("/my-sessions")
	mine.Use(requireAuth)
	mine.GET("", sessionHandler.ListMine)
	mine.GET("/:id", sessionHandler.Get)
	mine.POST("/save-draft", sessionHandler.SaveDraft)
	mine.POST("/publish", sessionHandler.Publish)
	mine.DELETE("/:id", sessionHandler.Delete)

	return router
}
