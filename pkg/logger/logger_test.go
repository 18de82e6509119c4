package logger

import (
	"context"
	"testing"
	"time"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}

	// Re-initialization must be safe.
	if err := Init(); err != nil {
		t.Fatalf("failed to re-initialize logger: %v", err)
	}
	if Get() == nil {
		t.Fatal("logger is nil after re-initialization")
	}
}

func TestLoggerBasic(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	ctx := context.Background()
	log := Get()
	log.Debug(ctx, "debug message", String("k", "v"))
	log.Info(ctx, "info message", Int("count", 3), Float64("ratio", 1.5))
	log.Warn(ctx, "warn message", Bool("dry_run", true))
	log.Error(ctx, "error message", Error(nil), Any("value", struct{}{}))
}

func TestLoggerNamed(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	named := Named("pipeline")
	if named == nil {
		t.Fatal("named logger is nil")
	}
	named.Info(context.Background(), "named message")
}

func TestLoggerWith(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	bound := Get().With(String("user_id", "user-1"), String("job_id", "j-42"))
	if bound == nil {
		t.Fatal("bound logger is nil")
	}
	bound.Info(context.Background(), "bound message",
		Duration("elapsed", 120*time.Millisecond),
		Time("at", time.Now()))
}

func TestSetLevelString(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	for _, lvl := range []string{"debug", "info", "warn", "warning", "error", "", "DEBUG", " Info "} {
		if err := SetLevelString(lvl); err != nil {
			t.Errorf("SetLevelString(%q) returned error: %v", lvl, err)
		}
	}

	if err := SetLevelString("verbose"); err == nil {
		t.Error("SetLevelString accepted an unknown level")
	}
}

func TestFieldConstructors(t *testing.T) {
	if f := String("a", "b"); f.Key != "a" || f.Value != "b" {
		t.Errorf("String field mismatch: %+v", f)
	}
	if f := Int("n", 7); f.Value != 7 {
		t.Errorf("Int field mismatch: %+v", f)
	}
	if f := Error(context.Canceled); f.Key != "error" {
		t.Errorf("Error field key mismatch: %+v", f)
	}
}
