package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"kombuciao-api/config"
	db "kombuciao-api/database"
	"kombuciao-api/gcs"
	"kombuciao-api/importer"
	"kombuciao-api/logger"
	"kombuciao-api/models"
	"kombuciao-api/routes"
	"kombuciao-api/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		logrus.WithError(err).Fatal("logger init failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.InitDB(ctx, cfg.MongoURI, cfg.MongoDB, log); err != nil {
		log.WithError(err).Fatal("database init failed")
	}
	defer db.DisconnectDB(log)

	storeRepo := models.NewStoreRepo(db.StoreCollection)
	reportRepo := models.NewReportRepo(db.ReportCollection)

	if cfg.ImportSchedule != "" {
		sched, objects, err := newImportScheduler(ctx, cfg, storeRepo, log)
		if err != nil {
			log.WithError(err).Fatal("import scheduler init failed")
		}
		defer objects.Close()
		sched.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(shutdownCtx)
		}()
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	routes.SetupRoutes(r, routes.Deps{
		Stores:  services.NewStoreService(storeRepo, cfg.AvailabilityWindow),
		Reports: services.NewReportService(reportRepo, storeRepo),
		Ping: func(ctx context.Context) error {
			return db.Client.Ping(ctx, nil)
		},
		Log:         log,
		APIKey:      cfg.APIKey,
		APIKeyHash:  cfg.APIKeyHash,
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}

// newImportScheduler runs the BANCO import in-process on IMPORT_SCHEDULE.
// The returned client is nil unless the source is on Cloud Storage; Close
// accepts a nil client.
func newImportScheduler(ctx context.Context, cfg config.Config, stores *models.StoreRepo, log *logrus.Logger) (*importer.Scheduler, *gcs.Client, error) {
	var client *gcs.Client
	src := importer.Source{}
	if gcs.IsURL(cfg.ImportSource) {
		var err error
		if client, err = gcs.InitGCS(ctx, cfg.GoogleCredentials, log); err != nil {
			return nil, nil, err
		}
		src.GCS = client
	}

	jobLog := log.WithField("job", "banco-import")
	im := importer.New(stores, src, jobLog)
	sched, err := importer.NewScheduler(cfg.ImportSchedule, im, importer.Options{Source: cfg.ImportSource}, jobLog)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return sched, client, nil
}
