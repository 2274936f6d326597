package maintenance

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/asadbukhari/weather-alert-cache/internal/store"
	"github.com/asadbukhari/weather-alert-cache/internal/tasks"
	"go.uber.org/zap"
)

// TestSweeper_RunOnce verifies one sweep removes expired rows and prunes
// finished task records.
func TestSweeper_RunOnce(t *testing.T) {
	ctx := context.Background()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := store.New(db, nil, store.WithNow(func() time.Time { return now }))

	if err := st.SetWeather(ctx, "weather_1_Punjab_Lahore", json.RawMessage(`{}`), 10*time.Minute); err != nil {
		t.Fatalf("SetWeather() error = %v", err)
	}
	now = now.Add(time.Hour)

	runner := tasks.NewRunner(1, 4, nil)
	defer func() { _ = runner.Stop(context.Background()) }()

	id, err := runner.Schedule("quick", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for runner.IsRunning(id) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Let the finished record age past the short retention window.
	time.Sleep(20 * time.Millisecond)

	s := NewSweeper(st, runner, zap.NewNop(), WithTaskRetention(time.Millisecond))
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	stats, err := st.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.WeatherExpired != 0 {
		t.Errorf("expired rows remaining = %d, want 0", stats.WeatherExpired)
	}
	if got := runner.Status(id); got != tasks.StatusUnknown {
		t.Errorf("Status() after prune = %v, want %v", got, tasks.StatusUnknown)
	}
}

// TestSweeper_NilDependencies verifies a sweep with nothing wired is a no-op.
func TestSweeper_NilDependencies(t *testing.T) {
	s := NewSweeper(nil, nil, zap.NewNop())
	if err := s.RunOnce(context.Background()); err != nil {
		t.Errorf("RunOnce() error = %v", err)
	}
}
