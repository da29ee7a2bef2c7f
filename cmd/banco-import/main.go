// Command banco-import loads the BANCO shop dataset into the stores
// collection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"kombuciao-api/config"
	db "kombuciao-api/database"
	"kombuciao-api/gcs"
	"kombuciao-api/importer"
	"kombuciao-api/logger"
	"kombuciao-api/models"
)

type flags struct {
	source    string
	full      bool
	dryRun    bool
	batchSize int
	envFile   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "banco-import",
		Short: "Import BANCO shops into the stores collection",
		Long: `Reads a BANCO export (CSV or the zipped data.gouv.fr archive) from a local
path, an http(s) URL or a gs:// URL and upserts every grocery-like shop by
osm_id. Without --full, rows older than the last import are skipped.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.source, "source", "", "path or URL of the export (default $IMPORT_SOURCE, then data.gouv.fr)")
	fs.BoolVar(&f.full, "full", false, "import every row regardless of last_update")
	fs.BoolVar(&f.dryRun, "dry-run", false, "parse and count without writing")
	fs.IntVar(&f.batchSize, "batch-size", importer.DefaultBatchSize, "documents per bulk write")
	fs.StringVar(&f.envFile, "env-file", "", "env file to load instead of .env")
	return cmd
}

func run(ctx context.Context, f flags) error {
	if f.batchSize <= 0 {
		return fmt.Errorf("--batch-size must be positive")
	}

	var files []string
	if f.envFile != "" {
		files = append(files, f.envFile)
	}
	cfg, err := config.LoadImport(files...)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	source := f.source
	if source == "" {
		source = cfg.ImportSource
	}
	if source == "" {
		source = importer.DefaultSource
	}

	if err := db.InitDB(ctx, cfg.MongoURI, cfg.MongoDB, log); err != nil {
		log.WithError(err).Error("database init failed")
		return err
	}
	defer db.DisconnectDB(log)

	src := importer.Source{}
	if gcs.IsURL(source) {
		client, err := gcs.InitGCS(ctx, cfg.GoogleCredentials, log)
		if err != nil {
			log.WithError(err).Error("cloud storage init failed")
			return err
		}
		defer client.Close()
		src.GCS = client
	}

	im := importer.New(models.NewStoreRepo(db.StoreCollection), src, log)
	stats, err := im.Run(ctx, importer.Options{
		Source:    source,
		Full:      f.full,
		DryRun:    f.dryRun,
		BatchSize: f.batchSize,
	})
	if err != nil {
		log.WithError(err).Error("import failed")
		return err
	}
	printSummary(log, stats)
	return nil
}

func printSummary(log logrus.FieldLogger, s importer.Stats) {
	if s.UpToDate {
		fmt.Println("stores are up to date")
		return
	}
	var skipped []string
	for reason, n := range s.Skipped {
		skipped = append(skipped, fmt.Sprintf("%s=%d", reason, n))
	}
	fmt.Printf("read %d, kept %d, stale %d, skipped [%s]\n", s.Read, s.Kept, s.Stale, strings.Join(skipped, " "))
	fmt.Printf("upserted %d, modified %d, failed %d in %d batches\n", s.Upserted, s.Modified, s.Failed, s.Batches)
	if s.Failed > 0 {
		log.WithField("failed", s.Failed).Warn("some stores were not written")
	}
}
