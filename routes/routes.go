package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"kombuciao-api/controllers"
	middlewares "kombuciao-api/middleware"
)

// Deps carries what the route table needs.
type Deps struct {
	Stores      controllers.StoreServicer
	Reports     controllers.ReportServicer
	Ping        func(ctx context.Context) error
	Log         logrus.FieldLogger
	APIKey      string
	APIKeyHash  string
	CORSOrigins []string
}

func SetupRoutes(r *gin.Engine, d Deps) {
	r.Use(middlewares.RequestID(), middlewares.RequestLogger(d.Log), gin.Recovery())
	r.Use(cors.New(corsConfig(d.CORSOrigins)))

	r.GET("/healthz", controllers.Health(d.Ping))

	protected := middlewares.APIKeyAuth(d.APIKey, d.APIKeyHash)
	SetupStoreRoutes(r, controllers.NewStoreController(d.Stores, d.Log), protected)
	SetupReportRoutes(r, controllers.NewReportController(d.Reports, d.Log), protected)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Authorization",
			middlewares.APIKeyHeader, middlewares.VoterIDHeader, middlewares.RequestIDHeader,
		},
		ExposeHeaders: []string{middlewares.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
