package fetch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/asadbukhari/weather-alert-cache/internal/client"
	"github.com/asadbukhari/weather-alert-cache/internal/models"
	"github.com/asadbukhari/weather-alert-cache/internal/observability"
	"github.com/asadbukhari/weather-alert-cache/internal/store"
)

// Orchestrator resolves a batch of location forecasts against the cache and
// fills misses concurrently from the upstream client. One failing location
// never fails the batch; its key is simply absent from the result.
type Orchestrator struct {
	store   *store.Store
	client  client.ForecastClient
	logger  *zap.Logger
	workers int
	ttl     time.Duration
}

// Options adjusts a single Resolve call.
type Options struct {
	// ForceRefresh skips the cache lookup and fetches every location.
	ForceRefresh bool
	// TTL overrides the orchestrator default for written-back entries when > 0.
	TTL time.Duration
}

// New creates an Orchestrator. workers caps concurrent in-flight upstream
// requests regardless of batch size; ttl is the default write-back TTL.
func New(st *store.Store, cl client.ForecastClient, logger *zap.Logger, workers int, ttl time.Duration) *Orchestrator {
	if workers <= 0 {
		workers = 15
	}
	return &Orchestrator{store: st, client: cl, logger: logger, workers: workers, ttl: ttl}
}

type missEntry struct {
	location string
	coords   models.Coordinates
	cacheKey string
}

// Resolve returns a location -> payload map that is the union of cache hits
// and successful fresh fetches; callers cannot tell which source an entry
// came from. The only error it returns is a failed batch cache read; every
// per-location problem is absorbed and logged.
func (o *Orchestrator) Resolve(ctx context.Context, region string, locations map[string]models.Coordinates, days int, opts Options) (map[string]json.RawMessage, error) {
	results := make(map[string]json.RawMessage, len(locations))
	if len(locations) == 0 {
		return results, nil
	}

	start := time.Now()
	observability.FetchBatchesTotal.Inc()
	ttl := o.ttl
	if opts.TTL > 0 {
		ttl = opts.TTL
	}

	var misses []missEntry
	if opts.ForceRefresh {
		for location, coords := range locations {
			misses = append(misses, missEntry{
				location: location,
				coords:   coords,
				cacheKey: models.WeatherCacheKey(days, region, location),
			})
		}
	} else {
		keys := make([]string, 0, len(locations))
		keyToLocation := make(map[string]string, len(locations))
		for location := range locations {
			key := models.WeatherCacheKey(days, region, location)
			keys = append(keys, key)
			keyToLocation[key] = location
		}

		cached, err := o.store.GetWeatherBatch(ctx, keys)
		if err != nil {
			// The batch read is the one unrecoverable orchestration step:
			// without it every call would silently bypass the cache.
			return nil, err
		}

		for key, entry := range cached {
			results[keyToLocation[key]] = entry.Payload
		}
		for location, coords := range locations {
			key := models.WeatherCacheKey(days, region, location)
			if _, ok := cached[key]; !ok {
				misses = append(misses, missEntry{location: location, coords: coords, cacheKey: key})
			}
		}
		observability.FetchBatchKeysTotal.WithLabelValues("hit").Add(float64(len(cached)))
	}

	if len(misses) == 0 {
		observability.FetchBatchDuration.Observe(time.Since(start).Seconds())
		return results, nil
	}

	if o.logger != nil {
		o.logger.Info("fetching uncached locations",
			zap.String("region", region), zap.Int("days", days),
			zap.Int("misses", len(misses)), zap.Int("hits", len(results)))
	}

	fetched := o.fetchConcurrent(ctx, days, ttl, misses)
	for location, payload := range fetched {
		results[location] = payload
	}

	dropped := len(misses) - len(fetched)
	observability.FetchBatchKeysTotal.WithLabelValues("fetched").Add(float64(len(fetched)))
	observability.FetchBatchKeysTotal.WithLabelValues("dropped").Add(float64(dropped))
	if dropped > 0 {
		observability.FetchDroppedKeysTotal.Add(float64(dropped))
	}
	observability.FetchBatchDuration.Observe(time.Since(start).Seconds())

	return results, nil
}

// fetchConcurrent dispatches misses through a bounded worker pool, writes
// each success back to the store, and collects the payloads.
func (o *Orchestrator) fetchConcurrent(ctx context.Context, days int, ttl time.Duration, misses []missEntry) map[string]json.RawMessage {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		fetched = make(map[string]json.RawMessage, len(misses))
	)
	sem := make(chan struct{}, o.workers)

	for _, miss := range misses {
		miss := miss
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			payload, err := o.client.GetForecast(ctx, miss.coords, days)
			if err != nil {
				if o.logger != nil {
					o.logger.Warn("dropping location after failed fetch",
						zap.String("location", miss.location), zap.Error(err))
				}
				return
			}

			if err := o.store.SetWeather(ctx, miss.cacheKey, payload, ttl); err != nil {
				// The fetched data is still good; only the write-back failed.
				if o.logger != nil {
					o.logger.Warn("cache write-back failed",
						zap.String("key", miss.cacheKey), zap.Error(err))
				}
			}

			mu.Lock()
			fetched[miss.location] = payload
			mu.Unlock()
		}()
	}
	wg.Wait()

	return fetched
}
