package models

import (
	"fmt"
	"strings"
	"time"
)

// CacheEntry is a persisted weather cache row. The payload is the raw upstream
// response, stored verbatim. A row is live while ExpiresAt is in the future;
// writes always replace the full row.
type CacheEntry struct {
	CacheKey  string    `gorm:"column:cache_key;primaryKey;size:256"`
	Payload   []byte    `gorm:"column:payload;type:blob;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	ExpiresAt time.Time `gorm:"column:expires_at;index;not null"`
}

// TableName keeps the table name stable across deployments.
func (CacheEntry) TableName() string { return "weather_cache" }

// AlertEntry is a derived alert row, keyed by (region, location, forecast days).
// At most one live row exists per key; regeneration replaces the row in full.
type AlertEntry struct {
	Region       string    `gorm:"column:region;primaryKey;size:64;index:idx_alerts_region_days"`
	Location     string    `gorm:"column:location;primaryKey;size:128"`
	ForecastDays int       `gorm:"column:forecast_days;primaryKey;index:idx_alerts_region_days"`
	AlertText    string    `gorm:"column:alert_text"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	ExpiresAt    time.Time `gorm:"column:expires_at;index;not null"`
}

func (AlertEntry) TableName() string { return "alerts" }

// AlertKey identifies one alert row.
type AlertKey struct {
	Region       string
	Location     string
	ForecastDays int
}

// Coordinates is a location's position for upstream forecast requests.
type Coordinates struct {
	Latitude  float64 `yaml:"lat" json:"lat"`
	Longitude float64 `yaml:"lon" json:"lon"`
}

// ForecastSeries is the generator-facing shape of one location's forecast.
// Every field is list-valued so single-day and multi-day horizons look the same.
type ForecastSeries struct {
	Time             []string  `json:"time"`
	TemperatureMax   []float64 `json:"temperature_2m_max"`
	TemperatureMin   []float64 `json:"temperature_2m_min"`
	Precipitation    []float64 `json:"precipitation_sum"`
	PrecipitationPct []float64 `json:"precipitation_probability_max"`
	WindSpeedMax     []float64 `json:"windspeed_10m_max"`
	WindGustsMax     []float64 `json:"windgusts_10m_max"`
	WeatherCode      []float64 `json:"weathercode"`
	SnowfallSum      []float64 `json:"snowfall_sum"`
	UVIndexMax       []float64 `json:"uv_index_max"`
}

// WeatherCacheKey builds the stable cache key for one location's forecast.
// External layers construct the same keys, so the format must not change.
func WeatherCacheKey(days int, region, location string) string {
	return fmt.Sprintf("weather_%d_%s_%s", days, region, SanitizeLocation(location))
}

// WeatherCachePattern builds a SQL LIKE pattern matching every location's
// weather key for one (days, region) scope.
func WeatherCachePattern(days int, region string) string {
	return fmt.Sprintf("weather_%d_%s_%%", days, region)
}

// SanitizeLocation maps a display name onto the character set used in cache
// keys: spaces and path separators become underscores.
func SanitizeLocation(location string) string {
	r := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "..", "_")
	return r.Replace(strings.TrimSpace(location))
}
