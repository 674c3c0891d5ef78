// Package relay parses relay command flags and composes the service
// entrypoint.
package relay

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/louisbranch/polyglot.chat/internal/platform/cmd"
	server "github.com/louisbranch/polyglot.chat/internal/services/relay/app"
)

// Config holds relay command configuration.
type Config struct {
	HTTPAddr          string        `env:"POLYGLOT_CHAT_HTTP_ADDR"           envDefault:":8080"`
	TranslatorBaseURL string        `env:"POLYGLOT_CHAT_TRANSLATOR_BASE_URL"`
	TranslateTimeout  time.Duration `env:"POLYGLOT_CHAT_TRANSLATE_TIMEOUT"   envDefault:"3s"`
	SweepInterval     time.Duration `env:"POLYGLOT_CHAT_SWEEP_INTERVAL"      envDefault:"15s"`
	StaleAfter        time.Duration `env:"POLYGLOT_CHAT_STALE_AFTER"         envDefault:"30s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "relay HTTP listen address")
	fs.StringVar(&cfg.TranslatorBaseURL, "translator-base-url", cfg.TranslatorBaseURL, "translation backend base URL (empty echoes originals)")
	fs.DurationVar(&cfg.TranslateTimeout, "translate-timeout", cfg.TranslateTimeout, "per-recipient translation wait bound")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "heartbeat sweep interval")
	fs.DurationVar(&cfg.StaleAfter, "stale-after", cfg.StaleAfter, "heartbeat staleness threshold")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the relay app and starts realtime transport behavior.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRelay, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:          cfg.HTTPAddr,
			TranslatorBaseURL: cfg.TranslatorBaseURL,
			TranslateTimeout:  cfg.TranslateTimeout,
			SweepInterval:     cfg.SweepInterval,
			StaleAfter:        cfg.StaleAfter,
		}); err != nil {
			return fmt.Errorf("serve relay: %w", err)
		}
		return nil
	})
}
