package routes

import (
	"github.com/gin-gonic/gin"

	"kombuciao-api/controllers"
	middlewares "kombuciao-api/middleware"
)

func SetupStoreRoutes(r *gin.Engine, h *controllers.StoreController, protected gin.HandlerFunc) {
	stores := r.Group("/stores")
	stores.GET("", h.SearchStores)
	stores.GET("/stats", h.GetStoreStats)
	stores.GET("/:id", h.GetStore)
	stores.POST("", protected, h.CreateStore)
	stores.PUT("/:id", protected, h.UpdateStore)
	stores.DELETE("/:id", protected, h.DeleteStore)
}

func SetupReportRoutes(r *gin.Engine, h *controllers.ReportController, protected gin.HandlerFunc) {
	reports := r.Group("/reports")
	reports.GET("", h.ListReports)
	reports.GET("/:id", h.GetReport)
	reports.POST("", protected, middlewares.OptionalVoterID(), h.CreateReport)
	reports.DELETE("/:id", protected, h.DeleteReport)

	// Votes are tied to the caller's device id.
	reports.POST("/:id/vote", protected, middlewares.RequireVoterID(), h.CreateVote)
	reports.DELETE("/:id/vote/:voteId", protected, middlewares.RequireVoterID(), h.DeleteVote)
}
