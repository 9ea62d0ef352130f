package ics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "dayplan/internal/log"
	"dayplan/internal/metrics"
	"dayplan/internal/model"
)

// Sink receives the imported events of one source, replacing whatever that
// source contributed before. *store.Store satisfies it.
type Sink interface {
	ReplaceSource(source string, events []model.Event) (int, error)
}

// Syncer pulls every configured feed into a Sink.
type Syncer struct {
	fetcher *Fetcher
	sink    Sink
	sources []Source
	loc     *time.Location
	metrics *metrics.Metrics // optional
	now     func() time.Time
}

func NewSyncer(fetcher *Fetcher, sink Sink, sources []Source, loc *time.Location, m *metrics.Metrics) *Syncer {
	if loc == nil {
		loc = time.Local
	}
	return &Syncer{
		fetcher: fetcher,
		sink:    sink,
		sources: sources,
		loc:     loc,
		metrics: m,
		now:     time.Now,
	}
}

// SyncAll fetches, parses and stores every source. A failing source does not
// stop the others; all failures are joined into the returned error. A source
// whose fetch or parse fails keeps its previously stored events.
func (s *Syncer) SyncAll(ctx context.Context) error {
	if len(s.sources) == 0 {
		return nil
	}

	results, errs := s.fetcher.FetchAll(ctx, s.sources)
	fetched := make(map[string]bool, len(results))

	for _, res := range results {
		fetched[res.Source.ID] = true

		imp, err := ParseICS(res.Source, res.Body, s.loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("ics: parse %s: %w", res.Source.ID, err))
			s.observe(res.Source.ID, "parse_error", 0, 0)
			continue
		}

		n, err := s.sink.ReplaceSource(res.Source.ID, imp.Events)
		if err != nil {
			// Partial: valid events were stored, the rest reported.
			errs = append(errs, fmt.Errorf("ics: store %s: %w", res.Source.ID, err))
			s.observe(res.Source.ID, "store_error", n, imp.Skipped()+len(imp.Events)-n)
			continue
		}
		s.observe(res.Source.ID, "ok", n, imp.Skipped())
		appLog.Info("ics sync source done", "id", res.Source.ID, "stored", n, "from_cache", res.FromCache)
	}

	for _, src := range s.sources {
		if !fetched[src.ID] {
			s.observe(src.ID, "fetch_error", 0, 0)
		}
	}
	if s.metrics != nil {
		s.metrics.LastSyncUnixTS.Set(float64(s.now().Unix()))
	}

	return errors.Join(errs...)
}

func (s *Syncer) observe(source, status string, imported, skipped int) {
	if s.metrics == nil {
		return
	}
	s.metrics.SyncRuns.WithLabelValues(source, status).Inc()
	if status == "fetch_error" || status == "parse_error" {
		return
	}
	s.metrics.SyncImported.WithLabelValues(source).Set(float64(imported))
	s.metrics.SyncSkipped.WithLabelValues(source).Set(float64(skipped))
}

// Start runs SyncAll on the cron schedule spec until ctx is cancelled. The
// returned channel is closed once the scheduler has stopped and any running
// sync has finished.
func (s *Syncer) Start(ctx context.Context, spec string) (<-chan struct{}, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		if err := s.SyncAll(ctx); err != nil {
			appLog.Error("scheduled ics sync finished with errors", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("ics: invalid refresh schedule %q: %w", spec, err)
	}

	c.Start()
	appLog.Info("ics sync scheduled", "refresh", spec, "sources", len(s.sources))

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		close(done)
	}()
	return done, nil
}
