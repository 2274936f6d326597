package alerts

import (
	"encoding/json"
	"fmt"

	"github.com/asadbukhari/weather-alert-cache/internal/models"
)

// NormalizeSeries converts one cached forecast payload into the generator's
// input shape. Every daily field becomes a slice, so single-day horizons and
// legacy scalar-valued rows share one shape with multi-day horizons.
func NormalizeSeries(payload json.RawMessage) (models.ForecastSeries, error) {
	var doc struct {
		Daily map[string]interface{} `json:"daily"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return models.ForecastSeries{}, fmt.Errorf("parse forecast payload: %w", err)
	}
	if len(doc.Daily) == 0 {
		return models.ForecastSeries{}, fmt.Errorf("forecast payload has no daily data")
	}

	series := models.ForecastSeries{
		Time:             toStrings(doc.Daily["time"]),
		TemperatureMax:   toFloats(doc.Daily["temperature_2m_max"]),
		TemperatureMin:   toFloats(doc.Daily["temperature_2m_min"]),
		Precipitation:    toFloats(doc.Daily["precipitation_sum"]),
		PrecipitationPct: toFloats(doc.Daily["precipitation_probability_max"]),
		WindSpeedMax:     toFloats(doc.Daily["windspeed_10m_max"]),
		WindGustsMax:     toFloats(doc.Daily["windgusts_10m_max"]),
		WeatherCode:      toFloats(doc.Daily["weathercode"]),
		SnowfallSum:      toFloats(doc.Daily["snowfall_sum"]),
		UVIndexMax:       toFloats(doc.Daily["uv_index_max"]),
	}
	if len(series.Time) == 0 {
		return models.ForecastSeries{}, fmt.Errorf("forecast payload has no time axis")
	}
	return series, nil
}

// toFloats coerces a decoded JSON value to a float slice. Scalars become a
// one-element slice; nulls inside lists become zero.
func toFloats(v interface{}) []float64 {
	switch val := v.(type) {
	case nil:
		return nil
	case float64:
		return []float64{val}
	case []interface{}:
		out := make([]float64, len(val))
		for i, item := range val {
			if f, ok := item.(float64); ok {
				out[i] = f
			}
		}
		return out
	default:
		return nil
	}
}

func toStrings(v interface{}) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return []string{val}
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
