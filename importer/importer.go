// Package importer keeps the stores collection in sync with the BANCO open
// dataset of French shops.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"

	"kombuciao-api/models"
)

const DefaultBatchSize = 1000

// StoreWriter is the storage the importer writes to. *models.StoreRepo
// implements it.
type StoreWriter interface {
	BulkUpsert(ctx context.Context, stores []models.StoreUpsert, now time.Time) (models.BulkResult, error)
	LatestUpdate(ctx context.Context) (time.Time, error)
}

var _ StoreWriter = (*models.StoreRepo)(nil)

// DatasetOpener opens an import location. Source implements it.
type DatasetOpener interface {
	Open(ctx context.Context, location string) (*Dataset, error)
}

type Options struct {
	Source string
	// Full imports every row. Otherwise rows last updated before the
	// previous import are skipped.
	Full      bool
	DryRun    bool
	BatchSize int
}

type Stats struct {
	Read     int64
	Kept     int64
	Stale    int64
	Skipped  map[string]int64
	Upserted int64
	Modified int64
	Failed   int64
	Batches  int
	// UpToDate is set when the export predates the previous import and
	// nothing was read.
	UpToDate bool
}

func (s Stats) fields() logrus.Fields {
	return logrus.Fields{
		"read":     s.Read,
		"kept":     s.Kept,
		"stale":    s.Stale,
		"skipped":  s.Skipped,
		"upserted": s.Upserted,
		"modified": s.Modified,
		"failed":   s.Failed,
		"batches":  s.Batches,
	}
}

type Importer struct {
	stores  StoreWriter
	sources DatasetOpener
	log     logrus.FieldLogger
	now     func() time.Time
}

func New(stores StoreWriter, sources DatasetOpener, log logrus.FieldLogger) *Importer {
	return &Importer{
		stores:  stores,
		sources: sources,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run imports one dataset.
func (im *Importer) Run(ctx context.Context, opts Options) (Stats, error) {
	stats := Stats{Skipped: map[string]int64{}}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	log := im.log.WithFields(logrus.Fields{"source": opts.Source, "full": opts.Full, "dry_run": opts.DryRun})

	var since time.Time
	if !opts.Full {
		latest, err := im.stores.LatestUpdate(ctx)
		if err != nil {
			return stats, err
		}
		if !latest.IsZero() {
			since = latest.UTC().Truncate(24 * time.Hour)
		}
	}

	ds, err := im.sources.Open(ctx, opts.Source)
	if err != nil {
		return stats, err
	}
	defer ds.Close()

	if !since.IsZero() && !ds.Published.IsZero() && ds.Published.Before(since) {
		log.WithFields(logrus.Fields{"published": ds.Published, "since": since}).Info("stores are up to date, nothing to import")
		stats.UpToDate = true
		return stats, nil
	}

	rows, err := NewRowReader(ds.Data)
	if err != nil {
		return stats, err
	}

	log.WithField("since", since).Info("import started")
	batch := make([]models.StoreUpsert, 0, opts.BatchSize)
	for {
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			stats.Read++
			stats.Skipped[SkipMalformed]++
			log.WithError(err).Debug("skipping malformed line")
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("read line %d: %w", row.Line, err)
		}
		stats.Read++

		m, reason := MapRow(row)
		if reason != "" {
			stats.Skipped[reason]++
			continue
		}
		if !since.IsZero() && !m.LastUpdate.IsZero() && m.LastUpdate.Before(since) {
			stats.Stale++
			continue
		}
		stats.Kept++

		batch = append(batch, m.Store)
		if len(batch) >= opts.BatchSize {
			if err := im.flush(ctx, batch, opts.DryRun, &stats, log); err != nil {
				return stats, err
			}
			batch = batch[:0]
		}
	}
	if err := im.flush(ctx, batch, opts.DryRun, &stats, log); err != nil {
		return stats, err
	}

	log.WithFields(stats.fields()).Info("import finished")
	return stats, nil
}

// flush writes one batch. Per-document write errors are counted and the
// import goes on; any other failure stops it.
func (im *Importer) flush(ctx context.Context, batch []models.StoreUpsert, dryRun bool, stats *Stats, log logrus.FieldLogger) error {
	if len(batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stats.Batches++
	if dryRun {
		return nil
	}

	res, err := im.stores.BulkUpsert(ctx, batch, im.now())
	var bwe mongo.BulkWriteException
	switch {
	case errors.As(err, &bwe):
		stats.Failed += int64(len(bwe.WriteErrors))
		log.WithError(err).WithField("failed", len(bwe.WriteErrors)).Warn("bulk upsert partially failed")
	case err != nil:
		return err
	}
	stats.Upserted += res.Upserted
	stats.Modified += res.Modified
	log.WithFields(logrus.Fields{"batch": stats.Batches, "size": len(batch)}).Debug("batch written")
	return nil
}
