package utils

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// APIError is a standard structure for returning errors as JSON.
type APIError struct {
	Error string `json:"error"`
}

// GinError sends a JSON error response with a specific status code.
func GinError(c *gin.Context, statusCode int, message string) {
	c.AbortWithStatusJSON(statusCode, APIError{Error: message})
}

// GinBadRequest sends a 400 Bad Request error response.
func GinBadRequest(c *gin.Context, message string) {
	GinError(c, http.StatusBadRequest, message)
}

// GinUnauthorized sends a 401 Unauthorized error response.
func GinUnauthorized(c *gin.Context, message string) {
	GinError(c, http.StatusUnauthorized, message)
}

// GinNotFound sends a 404 Not Found error response.
func GinNotFound(c *gin.Context, message string) {
	GinError(c, http.StatusNotFound, message)
}

// GinInternalServerError sends a 500 Internal Server Error response.
func GinInternalServerError(c *gin.Context, message string) {
	GinError(c, http.StatusInternalServerError, message)
}

// --- Logging ---

// NewLogger builds a zap logger. Any env other than "production" gets the
// human readable development profile.
func NewLogger(env string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env != "production" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "requestID"
	loggerKey       = "logger"
)

// RequestLogger tags every request with an id (reusing an incoming
// X-Request-ID) and logs the outcome once the handler chain finishes.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)

		reqLogger := logger.With(zap.String("request_id", requestID))
		c.Set(loggerKey, reqLogger)

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			reqLogger.Error("request failed", fields...)
		case status >= http.StatusBadRequest:
			reqLogger.Warn("request rejected", fields...)
		default:
			reqLogger.Info("request served", fields...)
		}
	}
}

// LoggerFrom returns the request scoped logger set by RequestLogger, or
// fallback when the middleware is not installed.
func LoggerFrom(c *gin.Context, fallback *zap.Logger) *zap.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	return fallback
}

var emailRegex = regexp.MustCompile(`^([^@]{1,3})[^@]*(@.+)$`)

// MaskEmail masks email addresses, showing the first 3 characters and the domain.
// Example: john.doe@example.com -> joh***@example.com
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	if m := emailRegex.FindStringSubmatch(email); len(m) == 3 {
		return m[1] + "***" + m[2]
	}
	if parts := strings.SplitN(email, "@", 2); len(parts) == 2 {
		return "***@" + parts[1]
	}
	return "***"
}
