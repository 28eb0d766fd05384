package ledgercache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Bronek/clio/pkg/backend"
	"github.com/Bronek/clio/pkg/ledger"
)

// ErrLoadOutdated is returned when ingestion moved past the load sequence
// before the load finished. The cache keeps following ingestion but is not
// marked full.
var ErrLoadOutdated = errors.New("cache load overtaken by newer ledgers")

// LoaderConfig holds cache loader configuration
type LoaderConfig struct {
	// Workers is the number of partitions loaded in parallel
	Workers int
	// Partitions splits the key space by leading byte; must be 1..256
	Partitions int
	// PageSize is the number of objects requested per page
	PageSize uint32
}

// DefaultLoaderConfig returns the loader defaults
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		Workers:    4,
		Partitions: 16,
		PageSize:   512,
	}
}

// PageFetcher is the part of the backend the loader needs
type PageFetcher interface {
	FetchLedgerPage(ctx context.Context, cursor *ledger.Key, seq uint32, limit uint32, outOfOrder bool) (backend.LedgerPage, error)
}

type partition struct {
	id    int
	start *ledger.Key // resume after this key, nil for the first partition
	end   *ledger.Key // first key of the next partition, nil for the last
}

type partitionResult struct {
	id      int
	objects int
	err     error
}

// Loader walks the full state at a sequence and fills the cache with it.
type Loader struct {
	fetcher PageFetcher
	cache   *Cache
	config  LoaderConfig
	logger  zerolog.Logger
}

// NewLoader creates a new cache loader
func NewLoader(fetcher PageFetcher, cache *Cache, config LoaderConfig, logger zerolog.Logger) *Loader {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.Partitions <= 0 || config.Partitions > 256 {
		config.Partitions = 16
	}
	if config.PageSize == 0 {
		config.PageSize = 512
	}

	return &Loader{
		fetcher: fetcher,
		cache:   cache,
		config:  config,
		logger:  logger.With().Str("component", "CacheLoader").Logger(),
	}
}

// Load fetches every live object at seq into the cache and marks the cache
// full on success. On error the objects loaded so far stay cached but the
// cache is not marked full.
func (l *Loader) Load(ctx context.Context, seq uint32) error {
	start := time.Now()
	parts := l.partitions()

	l.logger.Info().
		Uint32("seq", seq).
		Int("partitions", len(parts)).
		Int("workers", l.config.Workers).
		Msg("Starting cache load")

	queue := make(chan partition, len(parts))
	for _, p := range parts {
		queue <- p
	}
	close(queue)

	results := make(chan partitionResult, len(parts))

	var wg sync.WaitGroup
	for i := 0; i < l.config.Workers; i++ {
		wg.Add(1)
		go l.worker(ctx, seq, queue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	loaded := 0
	done := 0
	var firstErr error
	for result := range results {
		if result.err != nil {
			l.logger.Warn().
				Err(result.err).
				Int("partition", result.id).
				Msg("Partition load failed")
			if firstErr == nil {
				firstErr = result.err
			}
			continue
		}

		loaded += result.objects
		done++
		l.logger.Debug().
			Int("partition", result.id).
			Int("done", done).
			Int("total", len(parts)).
			Msg("Partition loaded")
	}

	if firstErr != nil {
		return fmt.Errorf("cache load incomplete (%d/%d partitions): %w", done, len(parts), firstErr)
	}

	l.cache.SetFull()
	l.logger.Info().
		Uint32("seq", seq).
		Int("objects", loaded).
		Dur("duration", time.Since(start)).
		Msg("Cache load complete")

	return nil
}

// worker loads partitions from the queue
func (l *Loader) worker(ctx context.Context, seq uint32, queue <-chan partition, results chan<- partitionResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for p := range queue {
		select {
		case <-ctx.Done():
			results <- partitionResult{id: p.id, err: ctx.Err()}
			continue
		default:
		}

		n, err := l.loadPartition(ctx, seq, p)
		if err != nil {
			l.logger.Debug().
				Err(err).
				Int("worker_id", workerID).
				Int("partition", p.id).
				Msg("Worker failed partition")
		}
		results <- partitionResult{id: p.id, objects: n, err: err}
	}
}

func (l *Loader) loadPartition(ctx context.Context, seq uint32, p partition) (int, error) {
	cursor := p.start
	loaded := 0

	for {
		page, err := l.fetcher.FetchLedgerPage(ctx, cursor, seq, l.config.PageSize, false)
		if err != nil {
			return loaded, fmt.Errorf("fetch page: %w", err)
		}
		loaderPages.Inc()

		objects := page.Objects
		if p.end != nil {
			n := 0
			for _, obj := range objects {
				if obj.Key.Compare(*p.end) < 0 {
					n++
				}
			}
			objects = objects[:n]
		}

		if !l.cache.Update(objects, seq) {
			return loaded, ErrLoadOutdated
		}
		loaded += len(objects)

		if page.Cursor == nil || (p.end != nil && page.Cursor.Compare(*p.end) >= 0) {
			return loaded, nil
		}
		cursor = page.Cursor
	}
}

// partitions splits the key space into contiguous ranges by leading byte.
func (l *Loader) partitions() []partition {
	n := l.config.Partitions
	parts := make([]partition, n)

	for i := 0; i < n; i++ {
		parts[i].id = i
		if i > 0 {
			first := ledger.Key{byte(i * 256 / n)}
			prev, _ := first.Prev()
			parts[i].start = &prev
		}
		if i < n-1 {
			end := ledger.Key{byte((i + 1) * 256 / n)}
			parts[i].end = &end
		}
	}
	return parts
}
