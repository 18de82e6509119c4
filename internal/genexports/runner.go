// Package genexports generates synthetic provider export files: one
// plausible health timeline rendered through every export format the
// ingestion pipeline accepts. Generation is deterministic, so equal
// configurations always produce byte-identical files.
package genexports

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/mirek/vita/internal/domain/model"
	"github.com/mirek/vita/pkg/logger"
)

// Config holds the generation parameters.
type Config struct {
	OutDir    string           // Directory the export files are written to
	Days      int              // Number of covered days, ending at End
	Seed      int64            // Random source seed
	End       time.Time        // Last covered day
	Providers []model.Provider // Providers to render; empty means all
}

// exportFiles names the output file per provider.
var exportFiles = map[model.Provider]string{
	model.ProviderFitbit:      "fitbit.json",
	model.ProviderGarmin:      "garmin.csv",
	model.ProviderOura:        "oura.json",
	model.ProviderAppleHealth: "apple_health.xml",
	model.ProviderCronometer:  "cronometer.csv",
	model.ProviderManual:      "manual.csv",
}

// Run generates one synthetic timeline and writes the selected provider
// renditions of it under cfg.OutDir.
func Run(ctx context.Context, cfg *Config) error {
	if cfg.Days <= 0 {
		return fmt.Errorf("days must be positive, got %d", cfg.Days)
	}
	providers := cfg.Providers
	if len(providers) == 0 {
		providers = model.AllProviders()
	}
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	timeline := buildTimeline(rng, cfg.Days, cfg.End)

	for _, provider := range providers {
		select {
		case <-ctx.Done():
			return fmt.Errorf("generation cancelled: %w", ctx.Err())
		default:
		}

		data, err := render(provider, timeline)
		if err != nil {
			return err
		}
		path := filepath.Join(cfg.OutDir, exportFiles[provider])
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s export: %w", provider, err)
		}
		logger.Get().Info(ctx, "export written",
			logger.String("provider", string(provider)),
			logger.String("path", path),
			logger.Int("days", cfg.Days))
	}

	return nil
}

// render renders the timeline as one provider's export format.
func render(provider model.Provider, timeline []dayMetrics) ([]byte, error) {
	switch provider {
	case model.ProviderFitbit:
		return renderFitbitJSON(timeline)
	case model.ProviderGarmin:
		return renderGarminCSV(timeline)
	case model.ProviderOura:
		return renderOuraJSON(timeline)
	case model.ProviderAppleHealth:
		return renderAppleXML(timeline)
	case model.ProviderCronometer:
		return renderCronometerCSV(timeline)
	case model.ProviderManual:
		return renderManualCSV(timeline)
	default:
		return nil, fmt.Errorf("no renderer for provider %q", provider)
	}
}
