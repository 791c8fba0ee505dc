package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gardenx/internal/errs"
	"gardenx/internal/service"
	"gardenx/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	schoolHeader = "X-School-ID"

	ctxSchoolID = "schoolID"
	ctxServices = "services"
	ctxClaims   = "claims"
)

// schoolMiddleware resolves the request's school and injects that
// school's service set. Unknown school ids are rejected outright.
func (h *Handler) schoolMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rt, err := h.registry.Resolve(c.GetHeader(schoolHeader))
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}

		c.Set(ctxSchoolID, rt.School.ID)
		c.Set(ctxServices, h.services[rt.School.ID])
		c.Next()
	}
}

// authMiddleware requires a valid, unrevoked session token bound to the
// request's school.
func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing bearer token"})
			return
		}

		svc := mustServices(c)
		claims, err := svc.Auth.VerifyToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid session"})
			return
		}

		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// adminMiddleware restricts a route group to admin sessions
func (h *Handler) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !mustClaims(c).Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

func mustServices(c *gin.Context) *SchoolServices {
	return c.MustGet(ctxServices).(*SchoolServices)
}

func mustClaims(c *gin.Context) *service.TokenClaims {
	return c.MustGet(ctxClaims).(*service.TokenClaims)
}

func schoolID(c *gin.Context) string {
	return c.GetString(ctxSchoolID)
}

// respondError maps domain errors to HTTP responses. Backend failures are
// logged with context and surfaced as a generic retry message.
func respondError(c *gin.Context, err error) {
	var (
		confErr    *errs.ConfigurationError
		valErr     *errs.ValidationError
		stockErr   *errs.InsufficientStockError
		profileErr *errs.ProfileIncompleteError
		backendErr *errs.BackendError
	)

	switch {
	case errors.As(err, &confErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": confErr.Error()})
	case errors.As(err, &valErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": valErr.Message,
			"field": valErr.Field,
		})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      stockErr.Error(),
			"product_id": stockErr.ProductID,
			"available":  stockErr.Available,
			"requested":  stockErr.Requested,
		})
	case errors.As(err, &profileErr):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Please complete your profile before checking out",
			"code":  "profile_incomplete",
		})
	case errors.As(err, &backendErr):
		util.GetLogger().Error("Backend error",
			zap.String("op", backendErr.Op),
			zap.Error(backendErr.Err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong, please try again"})
	default:
		util.GetLogger().Error("Unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong, please try again"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
