package api

import (
	"net/http"

	"subscription-api/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *Handler) {
	r.Use(middleware.RequestID(), middleware.AccessLog(), middleware.CORS())

	// API route group
	api := r.Group("/api")
	{
		// Subscription routes
		subscription := api.Group("/subscription")
		{
			subscription.GET("", h.GetSubscription)
			subscription.GET("/updates", h.SubscriptionUpdates)
			subscription.POST("/cancel", h.CancelSubscription)
			subscription.POST("/reactivate", h.ReactivateSubscription)
			subscription.POST("/sync", h.SyncSubscription)
		}

		// Stripe calls this, authenticated by the Stripe-Signature header
		api.POST("/webhook", h.StripeWebhook)

		api.GET("/trial/status", h.GetTrialStatus)

		user := api.Group("/user")
		{
			user.DELETE("/delete", h.DeleteUser)
			user.POST("/reactivate", h.ReactivateUser)
		}

		api.GET("/stripe/test", h.StripeConnectionTest)
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": h.ServiceName,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
