package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/asadbukhari/weather-alert-cache/internal/fetch"
	"github.com/asadbukhari/weather-alert-cache/internal/models"
	"github.com/asadbukhari/weather-alert-cache/internal/store"
)

// Pipeline regenerates derived alerts for a region: bulk-fetch forecasts,
// run the external generator once for the region, purge the stale scope,
// persist the new rows. Intended to run inside a background task.
type Pipeline struct {
	store     *store.Store
	fetcher   *fetch.Orchestrator
	generator Generator
	logger    *zap.Logger
	ttl       time.Duration
}

// NewPipeline wires the alert pipeline. ttl is applied to persisted alerts.
func NewPipeline(st *store.Store, fetcher *fetch.Orchestrator, generator Generator, logger *zap.Logger, ttl time.Duration) *Pipeline {
	return &Pipeline{store: st, fetcher: fetcher, generator: generator, logger: logger, ttl: ttl}
}

// Regenerate runs the full pipeline for (region, locations, days) and returns
// a short summary for task pollers. A fetch that yields nothing aborts before
// any purge, so a total upstream outage never wipes prior good alerts. After
// the purge there is no rollback: a persist failure leaves the scope empty
// until the next regeneration.
func (p *Pipeline) Regenerate(ctx context.Context, region string, locations map[string]models.Coordinates, days int) (string, error) {
	weather, err := p.fetcher.Resolve(ctx, region, locations, days, fetch.Options{ForceRefresh: true})
	if err != nil {
		return "", fmt.Errorf("bulk fetch for %s: %w", region, err)
	}
	if len(weather) == 0 {
		return "", fmt.Errorf("no weather data fetched for %s", region)
	}

	forecasts := make(map[string]models.ForecastSeries, len(weather))
	for location, payload := range weather {
		series, err := NormalizeSeries(payload)
		if err != nil {
			if p.logger != nil {
				p.logger.Warn("skipping location with unusable payload",
					zap.String("region", region), zap.String("location", location), zap.Error(err))
			}
			continue
		}
		forecasts[location] = series
	}
	if len(forecasts) == 0 {
		return "", fmt.Errorf("no usable forecast data for %s", region)
	}

	text, err := p.generator.Generate(ctx, region, forecasts)
	if err != nil {
		return "", fmt.Errorf("generate alerts for %s: %w", region, err)
	}

	parsed := ParseLocationAlerts(text)
	if len(parsed) == 0 {
		return "", fmt.Errorf("generator output for %s contained no location sections", region)
	}

	// Purge strictly before persist, for exactly the processed locations.
	// This is what keeps old and new alerts from coexisting for one key.
	processed := make([]string, 0, len(forecasts))
	for location := range forecasts {
		processed = append(processed, location)
	}
	sort.Strings(processed)

	purged, err := p.store.Purge(ctx, region, processed, days)
	if err != nil {
		return "", fmt.Errorf("purge stale alerts for %s: %w", region, err)
	}

	saved := 0
	for _, location := range processed {
		alertText, ok := parsed[location]
		if !ok {
			if p.logger != nil {
				p.logger.Warn("generator output missing location",
					zap.String("region", region), zap.String("location", location))
			}
			continue
		}
		if err := p.store.SaveAlert(ctx, region, location, days, alertText, p.ttl); err != nil {
			return "", fmt.Errorf("persist alert for %s/%s: %w", region, location, err)
		}
		saved++
	}

	if p.logger != nil {
		p.logger.Info("alert regeneration complete",
			zap.String("region", region), zap.Int("days", days),
			zap.Int("locations", len(processed)), zap.Int64("purged", purged), zap.Int("saved", saved))
	}

	summary := regenerateSummary{
		Region:    region,
		Days:      days,
		Locations: len(processed),
		Purged:    purged,
		Saved:     saved,
	}
	out, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	return string(out), nil
}

type regenerateSummary struct {
	Region    string `json:"region"`
	Days      int    `json:"days"`
	Locations int    `json:"locations"`
	Purged    int64  `json:"purged"`
	Saved     int    `json:"saved"`
}
