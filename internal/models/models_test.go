package models

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestWeatherCacheKey verifies the stable key format and location sanitizing.
func TestWeatherCacheKey(t *testing.T) {
	tests := []struct {
		name     string
		days     int
		region   string
		location string
		want     string
	}{
		{"simple", 3, "Punjab", "Lahore", "weather_3_Punjab_Lahore"},
		{"space in location", 1, "Sindh", "Karachi Central", "weather_1_Sindh_Karachi_Central"},
		{"slash in location", 7, "Punjab", "a/b", "weather_7_Punjab_a_b"},
		{"trimmed", 1, "Punjab", "  Multan ", "weather_1_Punjab_Multan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WeatherCacheKey(tt.days, tt.region, tt.location); got != tt.want {
				t.Errorf("WeatherCacheKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestWeatherCachePattern verifies the LIKE pattern covers keys produced by
// WeatherCacheKey for the same scope.
func TestWeatherCachePattern(t *testing.T) {
	pattern := WeatherCachePattern(3, "Punjab")
	if pattern != "weather_3_Punjab_%" {
		t.Fatalf("WeatherCachePattern() = %q", pattern)
	}

	key := WeatherCacheKey(3, "Punjab", "Lahore")
	prefix := strings.TrimSuffix(pattern, "%")
	if !strings.HasPrefix(key, prefix) {
		t.Errorf("key %q does not match pattern prefix %q", key, prefix)
	}
}

const regionsYAML = `
Punjab:
  Lahore:
    lat: 31.5204
    lon: 74.3587
  Multan:
    lat: 30.1575
    lon: 71.5249
Sindh:
  Sukkur:
    lat: 27.7052
    lon: 68.8570
`

func writeRegions(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regions.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write regions file: %v", err)
	}
	return path
}

// TestLoadRegions verifies YAML loading and coordinate parsing.
func TestLoadRegions(t *testing.T) {
	table, err := LoadRegions(writeRegions(t, regionsYAML))
	if err != nil {
		t.Fatalf("LoadRegions() error = %v", err)
	}
	if len(table) != 2 {
		t.Fatalf("LoadRegions() = %d regions, want 2", len(table))
	}
	if got := table["Punjab"]["Lahore"].Latitude; got != 31.5204 {
		t.Errorf("Lahore latitude = %v", got)
	}
}

// TestLoadRegions_Invalid verifies bad files are rejected.
func TestLoadRegions_Invalid(t *testing.T) {
	if _, err := LoadRegions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadRegions() error = nil for missing file")
	}
	if _, err := LoadRegions(writeRegions(t, "{}")); err == nil {
		t.Error("LoadRegions() error = nil for empty table")
	}
	if _, err := LoadRegions(writeRegions(t, ":::bad")); err == nil {
		t.Error("LoadRegions() error = nil for malformed YAML")
	}
}

// TestRegionTable_LocationsFor verifies scope resolution.
func TestRegionTable_LocationsFor(t *testing.T) {
	table, err := LoadRegions(writeRegions(t, regionsYAML))
	if err != nil {
		t.Fatalf("LoadRegions() error = %v", err)
	}

	all, ok := table.LocationsFor("Punjab", nil)
	if !ok || len(all) != 2 {
		t.Errorf("LocationsFor(nil) = %v, %v; want all locations", all, ok)
	}

	subset, ok := table.LocationsFor("Punjab", []string{"Lahore", "Attock"})
	if !ok {
		t.Fatal("LocationsFor() ok = false for known region")
	}
	if len(subset) != 1 {
		t.Errorf("LocationsFor() = %d locations, want 1 (unknown names skipped)", len(subset))
	}

	if _, ok := table.LocationsFor("Atlantis", nil); ok {
		t.Error("LocationsFor() ok = true for unknown region")
	}
}
