// Package ingest owns the dataset lifecycle: fetch the OEM feed, parse it,
// load the cache, and hand out an immutable in-memory snapshot. The snapshot
// is replaced wholesale on refresh and never mutated in place, so readers
// need no locking once it is published.
package ingest

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/orbit/ephgo/internal/metrics"
	"github.com/orbit/ephgo/internal/oem"
	"github.com/orbit/ephgo/internal/store"
)

// Source retrieves raw OEM feed data. *oem.Fetcher is the production
// implementation; tests substitute counting fakes.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	FeedURL() string
}

// Service coordinates the populate-once policy: the first read after a cold
// start triggers exactly one fetch (concurrent first readers are collapsed
// by singleflight), and every later read serves the cached snapshot until an
// explicit Refresh.
type Service struct {
	src    Source
	cache  *store.Store
	logger *slog.Logger

	snapshot atomic.Pointer[oem.Dataset]
	group    singleflight.Group
}

// NewService creates a Service over the given feed source and cache backend.
func NewService(src Source, cache *store.Store, logger *slog.Logger) *Service {
	return &Service{src: src, cache: cache, logger: logger}
}

// WarmStart loads an existing dataset from the cache backend without
// touching the network. Returns false when the cache is empty.
func (s *Service) WarmStart(ctx context.Context) (bool, error) {
	has, err := s.cache.HasData(ctx)
	if err != nil {
		metrics.IncStoreRead("error")
		return false, err
	}
	if !has {
		metrics.IncStoreRead("miss")
		return false, nil
	}

	ds, err := s.cache.ReadAll(ctx)
	if err != nil {
		metrics.IncStoreRead("error")
		return false, err
	}
	metrics.IncStoreRead("hit")

	s.publish(ds)
	s.logger.Info("warm start from cache",
		"vectors", len(ds.Vectors),
		"fetched_at", ds.FetchedAt.UTC().Format(time.RFC3339),
	)
	return true, nil
}

// Dataset returns the current snapshot, performing the guarded first-access
// refresh when none exists yet. The check and the populate run as one atomic
// unit: at most one ingestion is in flight, and callers that arrive during
// it share its result.
func (s *Service) Dataset(ctx context.Context) (*oem.Dataset, error) {
	if ds := s.snapshot.Load(); ds != nil {
		return ds, nil
	}

	v, err, _ := s.group.Do("populate", func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// populated while this one waited.
		if ds := s.snapshot.Load(); ds != nil {
			return ds, nil
		}
		return s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oem.Dataset), nil
}

// Refresh unconditionally re-fetches the feed and replaces the cache and
// snapshot wholesale. On failure the prior dataset remains untouched.
// Concurrent refreshes share one flight.
func (s *Service) Refresh(ctx context.Context) (*oem.Dataset, error) {
	v, err, _ := s.group.Do("refresh", func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oem.Dataset), nil
}

// refresh is the single ingestion path: fetch, parse, persist, publish.
// Nothing is cached until the full dataset has parsed cleanly.
func (s *Service) refresh(ctx context.Context) (*oem.Dataset, error) {
	start := time.Now()

	raw, err := s.src.Fetch(ctx)
	if err != nil {
		metrics.IncFeedFetch("error")
		return nil, err
	}

	vectors, err := oem.Parse(bytes.NewReader(raw), s.logger)
	if err != nil {
		metrics.IncFeedFetch("parse_error")
		return nil, err
	}
	if len(vectors) == 0 {
		// An empty feed must not replace a good cache.
		metrics.IncFeedFetch("parse_error")
		return nil, &oem.ParseError{Offset: -1, Msg: "feed contained no state vectors"}
	}

	ds := oem.NewDataset(s.src.FeedURL(), time.Now().UTC(), vectors)
	if err := s.cache.Load(ctx, ds); err != nil {
		metrics.IncFeedFetch("store_error")
		return nil, err
	}

	s.publish(ds)
	metrics.IncFeedFetch("success")

	s.logger.Info("dataset refreshed",
		"vectors", len(ds.Vectors),
		"first_epoch", oem.FormatEpoch(ds.EpochRange.First),
		"last_epoch", oem.FormatEpoch(ds.EpochRange.Last),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ds, nil
}

func (s *Service) publish(ds *oem.Dataset) {
	s.snapshot.Store(ds)
	metrics.SetDatasetVectors(len(ds.Vectors))
}

// Age returns the age of the current snapshot in seconds, or -1 when no
// dataset has been published.
func (s *Service) Age() float64 {
	ds := s.snapshot.Load()
	if ds == nil || ds.FetchedAt.IsZero() {
		return -1
	}
	return time.Since(ds.FetchedAt).Seconds()
}
