// Package settings resolves the active margin configuration, serving a
// cached copy for a short window between reads of the settings document.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fixpoint-repair/buyback/internal/model"
	"github.com/fixpoint-repair/buyback/internal/resilience"
)

// DefaultKey is the settings key holding the margin document.
const DefaultKey = "margin_settings"

var loads = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "buyback_margin_settings_loads_total",
		Help: "Margin settings resolutions partitioned by outcome",
	},
	[]string{"result"},
)

type snapshot struct {
	cfg       model.MarginConfig
	expiresAt time.Time
}

// Resolver returns the current MarginConfig. The cached snapshot is swapped
// atomically; concurrent refreshes on expiry may read the backend twice,
// and the last one to finish wins.
type Resolver struct {
	backend Backend
	key     string
	ttl     time.Duration
	breaker *resilience.Breaker
	now     func() time.Time
	log     *zap.Logger

	cache atomic.Pointer[snapshot]
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithBreaker routes backend reads through b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(r *Resolver) { r.breaker = b }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver reading key from backend.
func NewResolver(backend Backend, key string, ttl time.Duration, opts ...Option) *Resolver {
	if key == "" {
		key = DefaultKey
	}
	r := &Resolver{
		backend: backend,
		key:     key,
		ttl:     ttl,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "settings")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Load returns the active margin configuration. It never fails: a missing
// or unreadable document yields the built-in default.
func (r *Resolver) Load(ctx context.Context) model.MarginConfig {
	now := r.now()
	if s := r.cache.Load(); s != nil && now.Before(s.expiresAt) {
		loads.WithLabelValues("hit").Inc()
		return s.cfg
	}

	cfg, cache := r.read(ctx)
	if cache {
		r.cache.Store(&snapshot{cfg: cfg, expiresAt: now.Add(r.ttl)})
	}
	return cfg
}

// read fetches and decodes the document. Backend failures are not cached so
// the next call tries again; absent and malformed documents are.
func (r *Resolver) read(ctx context.Context) (model.MarginConfig, bool) {
	get := func(ctx context.Context) ([]byte, error) { return r.backend.Get(ctx, r.key) }

	var data []byte
	var err error
	if r.breaker != nil {
		data, err = resilience.Call(ctx, r.breaker, get)
	} else {
		data, err = get(ctx)
	}
	if err != nil {
		loads.WithLabelValues("error").Inc()
		r.log.Error("settings: read margin settings, using defaults", zap.String("key", r.key), zap.Error(err))
		return model.DefaultMarginConfig(), false
	}
	if len(bytes.TrimSpace(data)) == 0 {
		loads.WithLabelValues("default").Inc()
		r.log.Debug("settings: no margin settings stored, using defaults", zap.String("key", r.key))
		return model.DefaultMarginConfig(), true
	}

	var cfg model.MarginConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		loads.WithLabelValues("malformed").Inc()
		r.log.Warn("settings: malformed margin settings, using defaults", zap.String("key", r.key), zap.Error(err))
		return model.DefaultMarginConfig(), true
	}
	if err := cfg.Validate(); err != nil {
		loads.WithLabelValues("malformed").Inc()
		r.log.Warn("settings: invalid margin settings, using defaults", zap.String("key", r.key), zap.Error(err))
		return model.DefaultMarginConfig(), true
	}

	loads.WithLabelValues("miss").Inc()
	return cfg, true
}

// Save validates cfg and replaces the stored document. The cached snapshot
// is left alone and expires on its own schedule.
func (r *Resolver) Save(ctx context.Context, cfg model.MarginConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "settings: encode margin settings")
	}
	if err := r.backend.Put(ctx, r.key, data); err != nil {
		return eris.Wrap(err, "settings: save margin settings")
	}
	r.log.Info("margin settings saved", zap.String("mode", string(cfg.Mode())), zap.Int("series_overrides", len(cfg.SeriesOverrides)))
	return nil
}

// Stored returns the persisted document without defaults or caching, and
// whether one exists.
func (r *Resolver) Stored(ctx context.Context) (model.MarginConfig, bool, error) {
	data, err := r.backend.Get(ctx, r.key)
	if err != nil {
		return model.MarginConfig{}, false, eris.Wrap(err, "settings: read margin settings")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return model.DefaultMarginConfig(), false, nil
	}
	var cfg model.MarginConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return model.MarginConfig{}, true, eris.Wrap(err, "settings: decode margin settings")
	}
	return cfg, true, nil
}

// DecodeDocument parses a margin document in JSON or YAML. The format is
// taken from name's extension; anything other than .yaml/.yml is JSON.
func DecodeDocument(name string, data []byte) (model.MarginConfig, error) {
	var cfg model.MarginConfig
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, eris.Wrapf(err, "settings: decode %s", name)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, eris.Wrapf(err, "settings: decode %s", name)
		}
	}
	return cfg, cfg.Validate()
}
