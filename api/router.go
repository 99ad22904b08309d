// Package api exposes the account, photo and password-reset operations over
// HTTP.
package api

import (
	"net/http"
	"strings"

	"memorybox/config"
	"memorybox/db"
	"memorybox/docs"
	"memorybox/mailer"
	"memorybox/reset"
	"memorybox/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// Deps are the collaborators shared by every handler.
type Deps struct {
	Config   *config.Config
	DB       *db.Database
	Resets   reset.Registry
	Mailer   mailer.Mailer
	Logger   *zap.Logger
	Gatherer prometheus.Gatherer // Served on /metrics; defaults to the global registry
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(deps *Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(utils.RequestLogger(deps.Logger))
	router.Use(gin.Recovery())
	router.RedirectTrailingSlash = false
	// Account keys are emails; route on the raw path so an encoded "/" stays
	// inside the parameter, then hand handlers the decoded value.
	router.UseRawPath = true
	router.UnescapePathValues = true

	apiGroup := router.Group("/api")
	apiGroup.Use(limitBody(deps.Config.MaxBodyBytes))

	// --- Auth Routes ---
	authGroup := apiGroup.Group("/auth")
	{
		authGroup.POST("/signup", func(c *gin.Context) { SignupHandler(c, deps) })
		authGroup.POST("/login", func(c *gin.Context) { LoginHandler(c, deps) })
		authGroup.POST("/forgot-password", func(c *gin.Context) { ForgotPasswordHandler(c, deps) })
		authGroup.POST("/resend-code", func(c *gin.Context) { ResendCodeHandler(c, deps) })
		authGroup.POST("/verify-code", func(c *gin.Context) { VerifyCodeHandler(c, deps) })
		authGroup.POST("/reset-password", func(c *gin.Context) { ResetPasswordHandler(c, deps) })
	}

	// --- User Routes ---
	userGroup := apiGroup.Group("/users")
	{
		userGroup.GET("", func(c *gin.Context) { ListUsersHandler(c, deps) })
		userGroup.GET("/:userId", func(c *gin.Context) { GetUserHandler(c, deps) })
		userGroup.PATCH("/:userId", func(c *gin.Context) { UpdateUserHandler(c, deps) })
		userGroup.DELETE("/:userId", func(c *gin.Context) { DeleteUserHandler(c, deps) })
	}

	// --- Photo Routes ---
	photoGroup := apiGroup.Group("/photos")
	{
		photoGroup.GET("/:userId", func(c *gin.Context) { ListPhotosHandler(c, deps) })
		photoGroup.POST("/:userId", func(c *gin.Context) { AddPhotoHandler(c, deps) })
		photoGroup.DELETE("/:userId", func(c *gin.Context) { ClearPhotosHandler(c, deps) })
		photoGroup.PATCH("/:userId/:photoId", func(c *gin.Context) { UpdatePhotoHandler(c, deps) })
		photoGroup.DELETE("/:userId/:photoId", func(c *gin.Context) { DeletePhotoHandler(c, deps) })
	}

	// --- Operational Routes ---
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	// --- Swagger Route ---
	router.StaticFS("/docs", http.FS(docs.FS))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/docs/swagger.json")))

	router.NoRoute(staticFallback(deps.Config.StaticDir))
	return router
}

// limitBody caps request bodies at limit bytes.
func limitBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// staticFallback serves dir for GET requests outside /api. Everything else
// is a JSON 404.
func staticFallback(dir string) gin.HandlerFunc {
	var files http.Handler
	if dir != "" {
		files = http.FileServer(http.Dir(dir))
	}
	return func(c *gin.Context) {
		method := c.Request.Method
		if files != nil && (method == http.MethodGet || method == http.MethodHead) &&
			!strings.HasPrefix(c.Request.URL.Path, "/api/") {
			files.ServeHTTP(c.Writer, c.Request)
			return
		}
		utils.GinNotFound(c, "Route not found.")
	}
}
