// ABOUTME: Builds the bearer-token verification stack shared by both services
// ABOUTME: KeyCell fed by a key file watcher, optional replay cache, and the HTTP middleware

package service

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/nightlife/internal/auth"
	"github.com/2389/nightlife/internal/config"
	"github.com/2389/nightlife/internal/dedupe"
	"github.com/2389/nightlife/internal/keywatch"
	"github.com/2389/nightlife/internal/metrics"
)

const (
	replayCacheSize  = 100_000
	replayCacheSweep = time.Minute
)

// verification is the live token verification state of a service.
type verification struct {
	keys       *auth.KeyCell
	watcher    *keywatch.Watcher
	replay     *dedupe.Cache
	middleware func(http.Handler) http.Handler
}

func newVerification(cfg config.AuthConfig, m *metrics.Metrics, logger *slog.Logger) (*verification, error) {
	keys := auth.NewKeyCell()

	watcher, err := keywatch.New(cfg.PublicKeyFile, keys, logger.With("component", "keywatch"))
	if err != nil {
		return nil, err
	}
	watcher.SetObserver(m)

	verifier := auth.NewVerifier(auth.TokenSpec{
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		Tolerance: cfg.Tolerance,
	}, keys)

	v := &verification{keys: keys, watcher: watcher}
	if cfg.ReplayProtection {
		v.replay = dedupe.New(replayCacheSize, replayCacheSweep)
		verifier.SetReplayCache(v.replay)
	}
	v.middleware = auth.HTTPAuthMiddleware(verifier, logger.With("component", "auth"))
	return v, nil
}

// close stops the watcher and releases the replay cache.
func (v *verification) close() error {
	err := v.watcher.Close()
	if v.replay != nil {
		v.replay.Close()
	}
	return err
}
