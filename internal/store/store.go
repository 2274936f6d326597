package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/asadbukhari/weather-alert-cache/internal/models"
	"github.com/asadbukhari/weather-alert-cache/internal/observability"
)

// Store is the persistent TTL cache over the weather_cache and alerts tables.
// Expiry is decided by the absolute expires_at written with each row, so a
// configuration change never shortens or extends the life of existing rows.
// Each operation runs on its own connection from the pool; no lock is held
// across network calls.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// Option customises the Store.
type Option func(*Store)

// WithNow overrides the clock used for expiry comparisons, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Store over an opened database handle.
func New(db *gorm.DB, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CachedPayload is one live weather cache row returned by batch lookups.
type CachedPayload struct {
	Payload   json.RawMessage
	CreatedAt time.Time
}

// GetWeather returns the payload for key if a live row exists. A row whose
// payload is not valid JSON is deleted and reported as a miss; parse problems
// never reach the caller.
func (s *Store) GetWeather(ctx context.Context, key string) (json.RawMessage, time.Time, bool, error) {
	var entry models.CacheEntry
	err := s.db.WithContext(ctx).
		Where("cache_key = ? AND expires_at > ?", key, s.now()).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		observability.CacheMissesTotal.WithLabelValues("weather").Inc()
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		observability.StoreErrorsTotal.WithLabelValues("get").Inc()
		return nil, time.Time{}, false, fmt.Errorf("get weather cache %s: %w", key, err)
	}

	if !json.Valid(entry.Payload) {
		s.dropCorrupt(ctx, key)
		observability.CacheMissesTotal.WithLabelValues("weather").Inc()
		return nil, time.Time{}, false, nil
	}

	observability.CacheHitsTotal.WithLabelValues("weather").Inc()
	return json.RawMessage(entry.Payload), entry.CreatedAt, true, nil
}

// GetWeatherBatch returns the live subset of keys in a single query. Absent
// and expired keys are omitted, never errors. Corrupt rows are dropped and
// skipped, same as the single-key path.
func (s *Store) GetWeatherBatch(ctx context.Context, keys []string) (map[string]CachedPayload, error) {
	results := make(map[string]CachedPayload, len(keys))
	if len(keys) == 0 {
		return results, nil
	}

	var entries []models.CacheEntry
	err := s.db.WithContext(ctx).
		Where("cache_key IN ? AND expires_at > ?", keys, s.now()).
		Find(&entries).Error
	if err != nil {
		observability.StoreErrorsTotal.WithLabelValues("get_batch").Inc()
		return results, fmt.Errorf("batch weather cache lookup: %w", err)
	}

	for _, entry := range entries {
		if !json.Valid(entry.Payload) {
			s.dropCorrupt(ctx, entry.CacheKey)
			continue
		}
		results[entry.CacheKey] = CachedPayload{
			Payload:   json.RawMessage(entry.Payload),
			CreatedAt: entry.CreatedAt,
		}
	}
	return results, nil
}

// SetWeather upserts the payload for key. Last writer wins; there is no merge
// and no optimistic concurrency.
func (s *Store) SetWeather(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error {
	now := s.now()
	entry := models.CacheEntry{
		CacheKey:  key,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "created_at", "expires_at"}),
		}).Create(&entry).Error
	if err != nil {
		observability.StoreErrorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("set weather cache %s: %w", key, err)
	}
	return nil
}

// SaveAlert upserts one alert row; regeneration is full replace by key.
func (s *Store) SaveAlert(ctx context.Context, region, location string, days int, text string, ttl time.Duration) error {
	now := s.now()
	entry := models.AlertEntry{
		Region:       region,
		Location:     location,
		ForecastDays: days,
		AlertText:    text,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "region"}, {Name: "location"}, {Name: "forecast_days"}},
			DoUpdates: clause.AssignmentColumns([]string{"alert_text", "created_at", "expires_at"}),
		}).Create(&entry).Error
	if err != nil {
		observability.StoreErrorsTotal.WithLabelValues("save_alert").Inc()
		return fmt.Errorf("save alert %s/%s/%d: %w", region, location, days, err)
	}
	return nil
}

// GetAlert returns the live alert text for one composite key.
func (s *Store) GetAlert(ctx context.Context, region, location string, days int) (string, bool, error) {
	var entry models.AlertEntry
	err := s.db.WithContext(ctx).
		Where("region = ? AND location = ? AND forecast_days = ? AND expires_at > ?",
			region, location, days, s.now()).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		observability.CacheMissesTotal.WithLabelValues("alerts").Inc()
		return "", false, nil
	}
	if err != nil {
		observability.StoreErrorsTotal.WithLabelValues("get_alert").Inc()
		return "", false, fmt.Errorf("get alert %s/%s/%d: %w", region, location, days, err)
	}
	observability.CacheHitsTotal.WithLabelValues("alerts").Inc()
	return entry.AlertText, true, nil
}

// GetAlertsBatch returns live alert text for the requested composite keys in
// one round trip. It prefers a tuple IN predicate; engines that reject tuple
// membership get an OR-chain over equality clauses with identical results.
func (s *Store) GetAlertsBatch(ctx context.Context, keys []models.AlertKey) (map[models.AlertKey]string, error) {
	results := make(map[models.AlertKey]string, len(keys))
	if len(keys) == 0 {
		return results, nil
	}

	entries, err := s.alertsByTupleIn(ctx, keys)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("tuple IN rejected, falling back to OR chain", zap.Error(err))
		}
		entries, err = s.alertsByORChain(ctx, keys)
	}
	if err != nil {
		observability.StoreErrorsTotal.WithLabelValues("get_alerts_batch").Inc()
		return results, fmt.Errorf("batch alert lookup: %w", err)
	}

	for _, entry := range entries {
		key := models.AlertKey{Region: entry.Region, Location: entry.Location, ForecastDays: entry.ForecastDays}
		results[key] = entry.AlertText
	}
	return results, nil
}

func (s *Store) alertsByTupleIn(ctx context.Context, keys []models.AlertKey) ([]models.AlertEntry, error) {
	placeholders := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys)*3+1)
	for _, k := range keys {
		placeholders = append(placeholders, "(?, ?, ?)")
		args = append(args, k.Region, k.Location, k.ForecastDays)
	}
	args = append(args, s.now())

	var entries []models.AlertEntry
	query := fmt.Sprintf(
		"SELECT region, location, forecast_days, alert_text, created_at, expires_at FROM alerts "+
			"WHERE (region, location, forecast_days) IN (VALUES %s) AND expires_at > ?",
		strings.Join(placeholders, ","))
	err := s.db.WithContext(ctx).Raw(query, args...).Scan(&entries).Error
	return entries, err
}

func (s *Store) alertsByORChain(ctx context.Context, keys []models.AlertKey) ([]models.AlertEntry, error) {
	cond := s.db.Where("1 = 0")
	for _, k := range keys {
		cond = cond.Or(s.db.Where("region = ? AND location = ? AND forecast_days = ?",
			k.Region, k.Location, k.ForecastDays))
	}

	var entries []models.AlertEntry
	err := s.db.WithContext(ctx).
		Where("expires_at > ?", s.now()).
		Where(cond).
		Find(&entries).Error
	return entries, err
}

// GetAllAlerts returns every live alert for the horizon, grouped
// region -> location -> text.
func (s *Store) GetAllAlerts(ctx context.Context, days int) (map[string]map[string]string, error) {
	var entries []models.AlertEntry
	err := s.db.WithContext(ctx).
		Where("forecast_days = ? AND expires_at > ?", days, s.now()).
		Find(&entries).Error
	if err != nil {
		observability.StoreErrorsTotal.WithLabelValues("get_all_alerts").Inc()
		return nil, fmt.Errorf("get all alerts for %d days: %w", days, err)
	}

	alerts := make(map[string]map[string]string)
	for _, entry := range entries {
		if alerts[entry.Region] == nil {
			alerts[entry.Region] = make(map[string]string)
		}
		alerts[entry.Region][entry.Location] = entry.AlertText
	}
	return alerts, nil
}

// Purge removes alert rows and related weather cache rows for the scope.
// Empty locations means every location in (region, days); the weather-cache
// side is then a best-effort pattern match. The returned count covers alert
// rows only, which is why callers treat it as approximate.
func (s *Store) Purge(ctx context.Context, region string, locations []string, days int) (int64, error) {
	if len(locations) == 0 {
		res := s.db.WithContext(ctx).
			Where("region = ? AND forecast_days = ?", region, days).
			Delete(&models.AlertEntry{})
		if res.Error != nil {
			observability.StoreErrorsTotal.WithLabelValues("purge").Inc()
			return 0, fmt.Errorf("purge alerts %s/%d: %w", region, days, res.Error)
		}
		count := res.RowsAffected
		observability.PurgedRowsTotal.WithLabelValues("alerts").Add(float64(count))

		wres := s.db.WithContext(ctx).
			Where("cache_key LIKE ?", models.WeatherCachePattern(days, region)).
			Delete(&models.CacheEntry{})
		if wres.Error != nil {
			// Best-effort on the weather side; the alert purge already happened.
			observability.StoreErrorsTotal.WithLabelValues("purge").Inc()
			if s.logger != nil {
				s.logger.Warn("weather cache purge failed",
					zap.String("region", region), zap.Int("days", days), zap.Error(wres.Error))
			}
		} else {
			observability.PurgedRowsTotal.WithLabelValues("weather").Add(float64(wres.RowsAffected))
		}
		return count, nil
	}

	res := s.db.WithContext(ctx).
		Where("region = ? AND forecast_days = ? AND location IN ?", region, days, locations).
		Delete(&models.AlertEntry{})
	if res.Error != nil {
		observability.StoreErrorsTotal.WithLabelValues("purge").Inc()
		return 0, fmt.Errorf("purge alerts %s/%d: %w", region, days, res.Error)
	}
	count := res.RowsAffected
	observability.PurgedRowsTotal.WithLabelValues("alerts").Add(float64(count))

	keys := make([]string, 0, len(locations))
	for _, loc := range locations {
		keys = append(keys, models.WeatherCacheKey(days, region, loc))
	}
	wres := s.db.WithContext(ctx).
		Where("cache_key IN ?", keys).
		Delete(&models.CacheEntry{})
	if wres.Error != nil {
		observability.StoreErrorsTotal.WithLabelValues("purge").Inc()
		if s.logger != nil {
			s.logger.Warn("weather cache purge failed",
				zap.String("region", region), zap.Int("days", days), zap.Error(wres.Error))
		}
	} else {
		observability.PurgedRowsTotal.WithLabelValues("weather").Add(float64(wres.RowsAffected))
	}
	return count, nil
}

// CleanupExpired deletes every expired row from both tables. Safe to run at
// any time, independent of get/set traffic.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64
	var errs error

	res := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.CacheEntry{})
	if res.Error != nil {
		errs = multierr.Append(errs, fmt.Errorf("cleanup weather cache: %w", res.Error))
	} else {
		total += res.RowsAffected
	}

	ares := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.AlertEntry{})
	if ares.Error != nil {
		errs = multierr.Append(errs, fmt.Errorf("cleanup alerts: %w", ares.Error))
	} else {
		total += ares.RowsAffected
	}

	observability.ExpiredRowsTotal.Add(float64(total))
	if errs != nil {
		observability.StoreErrorsTotal.WithLabelValues("cleanup").Inc()
	}
	return total, errs
}

// Stats reports live and expired row counts for the health surface.
type Stats struct {
	WeatherLive    int64 `json:"weather_cache_count"`
	WeatherExpired int64 `json:"expired_weather_count"`
	AlertsLive     int64 `json:"alerts_count"`
	AlertsExpired  int64 `json:"expired_alerts_count"`
}

// GetStats counts live and expired rows in both tables.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	now := s.now()
	var stats Stats
	var errs error

	count := func(model interface{}, cond string, dst *int64) {
		err := s.db.WithContext(ctx).Model(model).Where(cond, now).Count(dst).Error
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	count(&models.CacheEntry{}, "expires_at > ?", &stats.WeatherLive)
	count(&models.CacheEntry{}, "expires_at <= ?", &stats.WeatherExpired)
	count(&models.AlertEntry{}, "expires_at > ?", &stats.AlertsLive)
	count(&models.AlertEntry{}, "expires_at <= ?", &stats.AlertsExpired)

	if errs != nil {
		observability.StoreErrorsTotal.WithLabelValues("stats").Inc()
		return stats, fmt.Errorf("store stats: %w", errs)
	}
	return stats, nil
}

func (s *Store) dropCorrupt(ctx context.Context, key string) {
	observability.CacheCorruptDroppedTotal.Inc()
	if s.logger != nil {
		s.logger.Warn("dropping corrupt cache row", zap.String("key", key))
	}
	if err := s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&models.CacheEntry{}).Error; err != nil {
		if s.logger != nil {
			s.logger.Warn("delete corrupt cache row failed", zap.String("key", key), zap.Error(err))
		}
	}
}
