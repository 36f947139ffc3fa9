package faultcode

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hearthlabs/boilerd/internal/cache"
	"github.com/hearthlabs/boilerd/internal/manufacturer"
)

const instrumentationName = "github.com/hearthlabs/boilerd/internal/faultcode"

// scopeAll is the result-cache partition for lookups without a manufacturer.
const scopeAll = "all"

// engineState is the initialization state of the engine.
type engineState int

const (
	stateUninitialized engineState = iota
	stateLoading
	stateReady
)

// Config configures the resolution engine.
type Config struct {
	// CacheTTL is how long lookup results stay valid (default: 10m).
	CacheTTL time.Duration

	// CacheMaxEntries bounds the result cache (default: 256).
	CacheMaxEntries int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CacheTTL:        10 * time.Minute,
		CacheMaxEntries: 256,
	}
}

// Engine resolves fault codes. Datasets load lazily on first use; a load
// failure leaves the engine uninitialized so a later call can retry.
type Engine struct {
	config *Config
	norm   *manufacturer.Normalizer
	remote Source
	logger *zap.Logger

	results *cache.Cache[Result]

	mu        sync.Mutex
	state     engineState
	loading   chan struct{}
	loadErr   error
	datasets  map[string][]Record
	loadCount int
	loadFn    func() (map[string][]Record, error)

	tracer        trace.Tracer
	meter         metric.Meter
	lookupCounter metric.Int64Counter
}

// Option configures an Engine.
type Option func(*Engine)

// WithRemote sets the remote lookup tier. Without it the waterfall ends at
// the embedded datasets.
func WithRemote(src Source) Option {
	return func(e *Engine) { e.remote = src }
}

// WithCacheMetrics attaches Prometheus metrics to the result cache.
func WithCacheMetrics(m *cache.Metrics) Option {
	return func(e *Engine) {
		e.results = cache.New(e.config.CacheTTL, e.config.CacheMaxEntries, cache.WithMetrics[Result](m))
	}
}

// NewEngine creates a resolution engine.
func NewEngine(cfg *Config, norm *manufacturer.Normalizer, logger *zap.Logger, opts ...Option) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if norm == nil {
		norm = manufacturer.NewDefaultNormalizer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config:  cfg,
		norm:    norm,
		logger:  logger,
		results: cache.New[Result](cfg.CacheTTL, cfg.CacheMaxEntries),
		loadFn:  loadEmbedded,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.initMetrics()
	return e
}

func (e *Engine) initMetrics() {
	var err error
	e.lookupCounter, err = e.meter.Int64Counter(
		"boilerd.faultcode.lookups_total",
		metric.WithDescription("Total number of fault code lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		e.logger.Warn("failed to create lookup counter", zap.Error(err))
	}
}

// ensureReady loads the datasets exactly once. Concurrent callers during a
// cold start wait on the same in-flight load instead of starting their own.
func (e *Engine) ensureReady(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case stateReady:
		e.mu.Unlock()
		return nil

	case stateLoading:
		done := e.loading
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.state != stateReady {
			return e.loadErr
		}
		return nil

	default: // stateUninitialized
		done := make(chan struct{})
		e.loading = done
		e.state = stateLoading
		e.loadCount++
		e.mu.Unlock()

		datasets, err := e.loadFn()

		e.mu.Lock()
		if err != nil {
			e.state = stateUninitialized
			e.loadErr = err
			e.logger.Error("dataset load failed", zap.Error(err))
		} else {
			e.datasets = datasets
			e.state = stateReady
			e.loadErr = nil
			total := 0
			for _, recs := range datasets {
				total += len(recs)
			}
			e.logger.Info("fault code datasets loaded",
				zap.Int("manufacturers", len(datasets)),
				zap.Int("records", total),
			)
		}
		close(done)
		e.mu.Unlock()
		return err
	}
}

// LoadCount returns how many dataset loads have been attempted.
func (e *Engine) LoadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadCount
}

// Find resolves a fault code.
//
// A blank code, and a non-blank manufacturer that does not normalize to a
// known key, are reported as Found=false results, not errors. A blank
// manufacturer is allowed and searches every loaded dataset, with each
// match tagged by its source manufacturer; this behaviour applies
// uniformly at every call site. The error return is reserved for engine
// unavailability (dataset load failure), so callers can tell "system
// unavailable" from "no such fault code".
func (e *Engine) Find(ctx context.Context, code, manuf string) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "faultcode.find")
	defer span.End()

	code = strings.ToUpper(strings.TrimSpace(code))
	span.SetAttributes(attribute.String("code", code))

	if code == "" {
		return Result{Found: false, Message: "a fault code is required"}, nil
	}

	scope := scopeAll
	if raw := strings.TrimSpace(manuf); raw != "" {
		key := e.norm.Normalize(raw)
		if key == "" {
			return Result{
				Found:   false,
				Message: fmt.Sprintf("manufacturer not recognized: %q", raw),
			}, nil
		}
		scope = key
	}
	span.SetAttributes(attribute.String("scope", scope))

	if err := e.ensureReady(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("fault code engine unavailable: %w", err)
	}

	cacheKey := code + "|" + scope
	if res, ok := e.results.Get(cacheKey); ok {
		e.recordLookup(ctx, scope, "cache")
		return res, nil
	}

	matches := e.search(code, scope)

	remoteFailed := false
	if len(matches) == 0 && e.remote != nil && scope != scopeAll {
		// Remote tier needs a manufacturer partition; failures here are
		// soft, the local result still stands.
		rec, err := e.remote.QueryByManufacturerAndCode(ctx, scope, code)
		if err != nil {
			remoteFailed = true
			e.logger.Warn("remote fault code lookup failed",
				zap.String("code", code),
				zap.String("manufacturer", scope),
				zap.Error(err),
			)
		} else if rec != nil {
			matches = append(matches, *rec)
		}
	}

	res := Result{Matches: matches}
	if len(matches) > 0 {
		res.Found = true
		res.Message = fmt.Sprintf("found %d match(es) for %s", len(matches), code)
	} else if scope == scopeAll {
		res.Message = fmt.Sprintf("no fault code %s found for any manufacturer", code)
	} else {
		res.Message = fmt.Sprintf("no fault code %s found for %s", code, scope)
	}

	// A miss produced during a remote outage is not cached: the code may
	// exist only in the remote tier, and caching it would pin "not found"
	// for the full TTL after a transient failure.
	if res.Found || !remoteFailed {
		e.results.Set(cacheKey, res)
	}
	e.recordLookup(ctx, scope, "dataset")

	span.SetAttributes(attribute.Bool("found", res.Found), attribute.Int("matches", len(matches)))
	return res, nil
}

// search runs the exact-then-range lookup over one manufacturer's dataset,
// or over every dataset when scope is "all". Exact matches take priority
// over range matches; among range matches the first in dataset order wins.
func (e *Engine) search(code, scope string) []Record {
	e.mu.Lock()
	datasets := e.datasets
	e.mu.Unlock()

	keys := []string{scope}
	if scope == scopeAll {
		keys = make([]string, 0, len(datasets))
		for k := range datasets {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}

	var exact, ranged []Record
	for _, key := range keys {
		var firstRange *Record
		for i, r := range datasets[key] {
			if r.Code == code {
				exact = append(exact, r)
			} else if firstRange == nil && matchesRange(r.Code, code) {
				firstRange = &datasets[key][i]
			}
		}
		if firstRange != nil {
			ranged = append(ranged, *firstRange)
		}
	}

	if len(exact) > 0 {
		return exact
	}
	return ranged
}

// AllForManufacturer returns the full dataset for one manufacturer.
// An unrecognized manufacturer yields an empty slice.
func (e *Engine) AllForManufacturer(ctx context.Context, manuf string) ([]Record, error) {
	ctx, span := e.tracer.Start(ctx, "faultcode.all_for_manufacturer")
	defer span.End()

	key := e.norm.Normalize(manuf)
	if key == "" {
		return []Record{}, nil
	}
	span.SetAttributes(attribute.String("manufacturer", key))

	if err := e.ensureReady(ctx); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("fault code engine unavailable: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	records := make([]Record, len(e.datasets[key]))
	copy(records, e.datasets[key])
	return records, nil
}

func (e *Engine) recordLookup(ctx context.Context, scope, tier string) {
	if e.lookupCounter != nil {
		e.lookupCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("tier", tier),
		))
	}
}
