package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// runTimeout bounds a scheduled import.
const runTimeout = 2 * time.Hour

// Runner runs one import. *Importer implements it.
type Runner interface {
	Run(ctx context.Context, opts Options) (Stats, error)
}

var _ Runner = (*Importer)(nil)

// Scheduler runs the importer on a cron schedule. A run still in progress when
// the next one is due makes that one skip.
type Scheduler struct {
	cron *cron.Cron
	log  logrus.FieldLogger
}

func NewScheduler(schedule string, runner Runner, opts Options, log logrus.FieldLogger) (*Scheduler, error) {
	cl := cronLogger{log: log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()

		stats, err := runner.Run(ctx, opts)
		if err != nil {
			log.WithError(err).Error("scheduled import failed")
			return
		}
		log.WithFields(stats.fields()).Info("scheduled import done")
	})
	if err != nil {
		return nil, fmt.Errorf("import schedule %q: %w", schedule, err)
	}
	return &Scheduler{cron: c, log: log}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.log.WithField("next", e.Next).Info("import scheduler started")
	}
}

// Stop prevents new runs and waits, up to ctx, for a running one to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("import still running at shutdown")
	}
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(pairs(keysAndValues)).WithError(err).Error(msg)
}

func pairs(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
