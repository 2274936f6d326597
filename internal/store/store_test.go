package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/asadbukhari/weather-alert-cache/internal/models"
)

// testStore opens a store over a throwaway database with a controllable clock.
func testStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(db, nil, WithNow(func() time.Time { return now }))
	return s, &now
}

// TestStore_SetGetWeather verifies that SetWeather stores a payload and
// GetWeather returns it while the row is live.
func TestStore_SetGetWeather(t *testing.T) {
	ctx := context.Background()
	s, _ := testStore(t)

	key := models.WeatherCacheKey(3, "Punjab", "Lahore")
	payload := json.RawMessage(`{"daily":{"time":["2026-03-01"]}}`)
	if err := s.SetWeather(ctx, key, payload, time.Hour); err != nil {
		t.Fatalf("SetWeather() error = %v", err)
	}

	got, _, found, err := s.GetWeather(ctx, key)
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if !found {
		t.Fatal("GetWeather() found = false, want true")
	}
	if string(got) != string(payload) {
		t.Errorf("GetWeather() = %s, want %s", got, payload)
	}
}

// TestStore_GetWeather_Miss verifies that an absent key is a clean miss.
func TestStore_GetWeather_Miss(t *testing.T) {
	ctx := context.Background()
	s, _ := testStore(t)

	_, _, found, err := s.GetWeather(ctx, "weather_1_Punjab_Nowhere")
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if found {
		t.Error("GetWeather() found = true, want false for missing key")
	}
}

// TestStore_GetWeather_Expired verifies that a row past expires_at is reported
// as a miss without advancing any wall clock.
func TestStore_GetWeather_Expired(t *testing.T) {
	ctx := context.Background()
	s, now := testStore(t)

	key := models.WeatherCacheKey(1, "Sindh", "Karachi Central")
	if err := s.SetWeather(ctx, key, json.RawMessage(`{}`), 30*time.Minute); err != nil {
		t.Fatalf("SetWeather() error = %v", err)
	}

	*now = now.Add(31 * time.Minute)

	_, _, found, err := s.GetWeather(ctx, key)
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if found {
		t.Error("GetWeather() found = true, want false for expired entry")
	}
}

// TestStore_SetWeather_Overwrite verifies last-writer-wins and that the TTL
// restarts on overwrite.
func TestStore_SetWeather_Overwrite(t *testing.T) {
	ctx := context.Background()
	s, now := testStore(t)

	key := models.WeatherCacheKey(7, "Punjab", "Multan")
	if err := s.SetWeather(ctx, key, json.RawMessage(`{"v":1}`), 10*time.Minute); err != nil {
		t.Fatalf("SetWeather() error = %v", err)
	}

	*now = now.Add(9 * time.Minute)
	if err := s.SetWeather(ctx, key, json.RawMessage(`{"v":2}`), 10*time.Minute); err != nil {
		t.Fatalf("SetWeather() overwrite error = %v", err)
	}

	// 15 minutes after the first write, 6 after the second: still live.
	*now = now.Add(6 * time.Minute)
	got, _, found, err := s.GetWeather(ctx, key)
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if !found {
		t.Fatal("GetWeather() found = false, want true after overwrite")
	}
	if string(got) != `{"v":2}` {
		t.Errorf("GetWeather() = %s, want second write", got)
	}
}

// TestStore_GetWeatherBatch verifies that a batch read returns exactly the
// live subset: fresh key present, expired and never-written keys absent.
func TestStore_GetWeatherBatch(t *testing.T) {
	ctx := context.Background()
	s, now := testStore(t)

	fresh := models.WeatherCacheKey(3, "Punjab", "Lahore")
	stale := models.WeatherCacheKey(3, "Punjab", "Sialkot")
	never := models.WeatherCacheKey(3, "Punjab", "Sargodha")

	if err := s.SetWeather(ctx, stale, json.RawMessage(`{"loc":"sialkot"}`), 10*time.Minute); err != nil {
		t.Fatalf("SetWeather() error = %v", err)
	}
	*now = now.Add(20 * time.Minute)
	if err := s.SetWeather(ctx, fresh, json.RawMessage(`{"loc":"lahore"}`), time.Hour); err != nil {
		t.Fatalf("SetWeather() error = %v", err)
	}

	got, err := s.GetWeatherBatch(ctx, []string{fresh, stale, never})
	if err != nil {
		t.Fatalf("GetWeatherBatch() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("GetWeatherBatch() returned %d entries, want 1", len(got))
	}
	if _, ok := got[fresh]; !ok {
		t.Error("GetWeatherBatch() missing the live key")
	}
}

// TestStore_GetWeatherBatch_Empty verifies the zero-key fast path.
func TestStore_GetWeatherBatch_Empty(t *testing.T) {
	ctx := context.Background()
	s, _ := testStore(t)

	got, err := s.GetWeatherBatch(ctx, nil)
	if err != nil {
		t.Fatalf("GetWeatherBatch() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("GetWeatherBatch() = %d entries, want 0", len(got))
	}
}

// TestStore_GetWeather_CorruptRowDropped verifies that a row whose payload is
// not valid JSON is deleted on read and reported as a miss.
func TestStore_GetWeather_CorruptRowDropped(t *testing.T) {
	ctx := context.Background()
	s, _ := testStore(t)

	key := models.WeatherCacheKey(1, "Punjab", "Lahore")
	entry := models.CacheEntry{
		CacheKey:  key,
		Payload:   []byte("{not json"),
		CreatedAt: s.now(),
		ExpiresAt: s.now().Add(time.Hour),
	}
	if err := s.db.Create(&entry).Error; err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}

	_, _, found, err := s.GetWeather(ctx, key)
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if found {
		t.Error("GetWeather() found = true, want false for corrupt payload")
	}

	var count int64
	if err := s.db.Model(&models.CacheEntry{}).Where("cache_key = ?", key).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Error("corrupt row should be deleted after read")
	}
}

// TestStore_SaveGetAlert verifies alert upsert and lookup by composite key.
func TestStore_SaveGetAlert(t *testing.T) {
	ctx := context.Background()
	s, _ := testStore(t)

	if err := s.SaveAlert(ctx, "Punjab", "Lahore", 3, "Heavy rain expected.", time.Hour); err != nil {
		t.Fatalf("SaveAlert() error = %v", err)
	}
	if err := s.SaveAlert(ctx, "Punjab", "Lahore", 3, "Updated: thunderstorm.", time.Hour); err != nil {
		t.Fatalf("SaveAlert() upsert error = %v", err)
	}

	text, found, err := s.GetAlert(ctx, "Punjab", "Lahore", 3)
	if err != nil {
		t.Fatalf("GetAlert() error = %v", err)
	}
	if !found {
		t.Fatal("GetAlert() found = false, want true")
	}
	if text != "Updated: thunderstorm." {
		t.Errorf("GetAlert() = %q, want the upserted text", text)
	}

	// Same location under a different horizon is a distinct row.
	_, found, err = s.GetAlert(ctx, "Punjab", "Lahore", 7)
	if err != nil {
		t.Fatalf("GetAlert() error = %v", err)
	}
	if found {
		t.Error("GetAlert() found = true for a horizon never written")
	}
}

// TestStore_GetAlertsBatch verifies the composite-key batch lookup returns
// only requested live rows.
func TestStore_GetAlertsBatch(t *testing.T) {
	ctx := context.Background()
	s, _ := testStore(t)

	seed := []models.AlertKey{
		{Region: "Punjab", Location: "Lahore", ForecastDays: 3},
		{Region: "Punjab", Location: "Multan", ForecastDays: 3},
		{Region: "Sindh", Location: "Sukkur", ForecastDays: 3},
	}
	for _, k := range seed {
		if err := s.SaveAlert(ctx, k.Region, k.Location, k.ForecastDays, "alert for "+k.Location, time.Hour); err != nil {
			t.Fatalf("SaveAlert() error = %v", err)
		}
	}

	want := []models.AlertKey{seed[0], seed[2]}
	got, err := s.GetAlertsBatch(ctx, append(want, models.AlertKey{Region: "Punjab", Location: "Attock", ForecastDays: 3}))
	if err != nil {
		t.Fatalf("GetAlertsBatch() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetAlertsBatch() = %d entries, want 2", len(got))
	}
	for _, k := range want {
		if got[k] != "alert for "+k.Location {
			t.Errorf("GetAlertsBatch()[%v] = %q", k, got[k])
		}
	}
}

// TestStore_GetAllAlerts verifies grouping by region and location.
func TestStore_GetAllAlerts(t *testing.T) {
	ctx := context.Background()
	s, _ := testStore(t)

	if err := s.SaveAlert(ctx, "Punjab", "Lahore", 3, "a", time.Hour); err != nil {
		t.Fatalf("SaveAlert() error = %v", err)
	}
	if err := s.SaveAlert(ctx, "Sindh", "Hyderabad", 3, "b", time.Hour); err != nil {
		t.Fatalf("SaveAlert() error = %v", err)
	}
	if err := s.SaveAlert(ctx, "Sindh", "Hyderabad", 7, "other horizon", time.Hour); err != nil {
		t.Fatalf("SaveAlert() error = %v", err)
	}

	got, err := s.GetAllAlerts(ctx, 3)
	if err != nil {
		t.Fatalf("GetAllAlerts() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetAllAlerts() = %d regions, want 2", len(got))
	}
	if got["Punjab"]["Lahore"] != "a" || got["Sindh"]["Hyderabad"] != "b" {
		t.Errorf("GetAllAlerts() = %v", got)
	}
}

// TestStore_Purge_SpecificLocations verifies that purging named locations
// removes exactly their alert and weather rows.
func TestStore_Purge_SpecificLocations(t *testing.T) {
	ctx := context.Background()
	s, _ := testStore(t)

	for _, loc := range []string{"Lahore", "Multan", "Sialkot"} {
		if err := s.SaveAlert(ctx, "Punjab", loc, 3, "x", time.Hour); err != nil {
			t.Fatalf("SaveAlert() error = %v", err)
		}
		key := models.WeatherCacheKey(3, "Punjab", loc)
		if err := s.SetWeather(ctx, key, json.RawMessage(`{}`), time.Hour); err != nil {
			t.Fatalf("SetWeather() error = %v", err)
		}
	}

	count, err := s.Purge(ctx, "Punjab", []string{"Lahore", "Multan"}, 3)
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Purge() = %d, want 2 alert rows", count)
	}

	if _, found, _ := s.GetAlert(ctx, "Punjab", "Lahore", 3); found {
		t.Error("purged alert still present")
	}
	if _, found, _ := s.GetAlert(ctx, "Punjab", "Sialkot", 3); !found {
		t.Error("untouched alert was purged")
	}
	if _, _, found, _ := s.GetWeather(ctx, models.WeatherCacheKey(3, "Punjab", "Multan")); found {
		t.Error("purged weather row still present")
	}
	if _, _, found, _ := s.GetWeather(ctx, models.WeatherCacheKey(3, "Punjab", "Sialkot")); !found {
		t.Error("untouched weather row was purged")
	}
}

// TestStore_Purge_AllLocations verifies the empty-locations form: every alert
// for (region, days) goes, plus pattern-matched weather rows, and alerts in
// other regions or horizons stay.
func TestStore_Purge_AllLocations(t *testing.T) {
	ctx := context.Background()
	s, _ := testStore(t)

	for _, loc := range []string{"Lahore", "Multan", "Sialkot", "Sargodha", "Bahawalpur"} {
		if err := s.SaveAlert(ctx, "Punjab", loc, 3, "x", time.Hour); err != nil {
			t.Fatalf("SaveAlert() error = %v", err)
		}
		if err := s.SetWeather(ctx, models.WeatherCacheKey(3, "Punjab", loc), json.RawMessage(`{}`), time.Hour); err != nil {
			t.Fatalf("SetWeather() error = %v", err)
		}
	}
	if err := s.SaveAlert(ctx, "Sindh", "Sukkur", 3, "other region", time.Hour); err != nil {
		t.Fatalf("SaveAlert() error = %v", err)
	}
	if err := s.SaveAlert(ctx, "Punjab", "Lahore", 7, "other horizon", time.Hour); err != nil {
		t.Fatalf("SaveAlert() error = %v", err)
	}

	count, err := s.Purge(ctx, "Punjab", nil, 3)
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if count != 5 {
		t.Errorf("Purge() = %d, want 5 alert rows", count)
	}

	if _, found, _ := s.GetAlert(ctx, "Sindh", "Sukkur", 3); !found {
		t.Error("other-region alert was purged")
	}
	if _, found, _ := s.GetAlert(ctx, "Punjab", "Lahore", 7); !found {
		t.Error("other-horizon alert was purged")
	}
	if _, _, found, _ := s.GetWeather(ctx, models.WeatherCacheKey(3, "Punjab", "Lahore")); found {
		t.Error("weather row should be purged by pattern")
	}
}

// TestStore_CleanupExpired verifies that the sweeper form removes only
// rows past their expiry in both tables.
func TestStore_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	s, now := testStore(t)

	if err := s.SetWeather(ctx, "weather_1_Punjab_Lahore", json.RawMessage(`{}`), 10*time.Minute); err != nil {
		t.Fatalf("SetWeather() error = %v", err)
	}
	if err := s.SaveAlert(ctx, "Punjab", "Lahore", 1, "short", 10*time.Minute); err != nil {
		t.Fatalf("SaveAlert() error = %v", err)
	}
	*now = now.Add(15 * time.Minute)
	if err := s.SetWeather(ctx, "weather_1_Punjab_Multan", json.RawMessage(`{}`), time.Hour); err != nil {
		t.Fatalf("SetWeather() error = %v", err)
	}

	removed, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("CleanupExpired() = %d, want 2", removed)
	}

	if _, _, found, _ := s.GetWeather(ctx, "weather_1_Punjab_Multan"); !found {
		t.Error("live row removed by cleanup")
	}
}

// TestStore_GetStats verifies live and expired row counting.
func TestStore_GetStats(t *testing.T) {
	ctx := context.Background()
	s, now := testStore(t)

	if err := s.SetWeather(ctx, "weather_1_Punjab_Lahore", json.RawMessage(`{}`), 10*time.Minute); err != nil {
		t.Fatalf("SetWeather() error = %v", err)
	}
	if err := s.SaveAlert(ctx, "Punjab", "Lahore", 1, "x", time.Hour); err != nil {
		t.Fatalf("SaveAlert() error = %v", err)
	}
	*now = now.Add(30 * time.Minute)

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.WeatherLive != 0 || stats.WeatherExpired != 1 {
		t.Errorf("weather stats = %+v", stats)
	}
	if stats.AlertsLive != 1 || stats.AlertsExpired != 0 {
		t.Errorf("alert stats = %+v", stats)
	}
}
