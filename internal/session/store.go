package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hearthlabs/boilerd/internal/kv"
)

const instrumentationName = "github.com/hearthlabs/boilerd/internal/session"

// Config configures the session store.
type Config struct {
	// Timeout is the inactivity window after which a session is treated as
	// absent. One value governs both session validity and the sweep
	// (default: 30m).
	Timeout time.Duration

	// SweepInterval is how often the background sweep runs (default: 5m).
	SweepInterval time.Duration

	// KeyPrefix namespaces session keys in the backing store
	// (default: "session:").
	KeyPrefix string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:       30 * time.Minute,
		SweepInterval: 5 * time.Minute,
		KeyPrefix:     "session:",
	}
}

// Store persists and repairs conversation state. Storage and clock are
// injected so tests can use a fake of either.
type Store struct {
	config *Config
	kv     kv.Store
	logger *zap.Logger
	now    func() time.Time
	tracer trace.Tracer
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a session store backed by store.
func NewStore(cfg *Config, store kv.Store, logger *zap.Logger, opts ...Option) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, errors.New("kv store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		config: cfg,
		kv:     store,
		logger: logger,
		now:    time.Now,
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) key(sessionID string) string {
	return s.config.KeyPrefix + sessionID
}

func (s *Store) expired(st State) bool {
	return s.now().UnixMilli()-st.UpdatedAt > s.config.Timeout.Milliseconds()
}

// Context returns the state for sessionID, creating and persisting a
// default-shaped state when no record exists. A persisted record that is
// expired or unparseable is silently replaced by a fresh default; a
// partially corrupted one is repaired field by field.
func (s *Store) Context(ctx context.Context, sessionID string) State {
	_, span := s.tracer.Start(ctx, "session.context")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	raw, ok := s.kv.Get(s.key(sessionID))
	if !ok {
		return s.reset(sessionID, "new")
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		s.logger.Warn("session blob unparseable, resetting",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return s.reset(sessionID, "corrupt")
	}

	st := repairState(sessionID, decoded, s.now())
	if s.expired(st) {
		return s.reset(sessionID, "expired")
	}
	return st
}

// Save validates, repairs and persists st under sessionID, stamping the
// write time. Persistence failure is never fatal: on error a minimal
// default state is attempted as a fallback, and if that also fails the
// error is logged and the repaired state is still returned.
func (s *Store) Save(ctx context.Context, sessionID string, st State) State {
	_, span := s.tracer.Start(ctx, "session.save")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	st.SessionID = sessionID
	normalize(&st)
	st.UpdatedAt = s.now().UnixMilli()

	if err := s.persist(sessionID, st); err != nil {
		s.logger.Warn("session persist failed, trying minimal fallback",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		fallback := defaultState(sessionID, s.now())
		if err := s.persist(sessionID, fallback); err != nil {
			s.logger.Error("session fallback persist failed, continuing without persistence",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}
	return st
}

// Create initializes a session, optionally seeded with identifying fields.
// Any existing record for sessionID is replaced.
func (s *Store) Create(ctx context.Context, sessionID string, seed *State) State {
	st := defaultState(sessionID, s.now())
	if seed != nil {
		st.Manufacturer = seed.Manufacturer
		st.Model = seed.Model
		st.SystemType = seed.SystemType
		st.GCNumber = seed.GCNumber
	}
	return s.Save(ctx, sessionID, st)
}

// Update applies a partial update to the session and persists the result.
// Slice values append without duplicates; scalar pointers overwrite;
// messages extend the history and bump the message count.
func (s *Store) Update(ctx context.Context, sessionID string, patch Patch) State {
	st := s.Context(ctx, sessionID)

	if patch.Manufacturer != nil {
		st.Manufacturer = *patch.Manufacturer
	}
	if patch.Model != nil {
		st.Model = *patch.Model
	}
	if patch.SystemType != nil {
		st.SystemType = *patch.SystemType
	}
	if patch.GCNumber != nil {
		st.GCNumber = *patch.GCNumber
	}
	if patch.Stage != nil && patch.Stage.Valid() {
		st.Stage = *patch.Stage
	}
	if patch.DetailMode != nil {
		st.DetailMode = *patch.DetailMode
	}
	if patch.LastDiagnosis != nil {
		st.LastDiagnosis = patch.LastDiagnosis
	}
	if patch.Topics != nil {
		st.TopicsCovered = mergeTopics(st.TopicsCovered, *patch.Topics)
	}

	st.FaultCodes = appendUnique(st.FaultCodes, patch.FaultCodes)
	st.Symptoms = appendUnique(st.Symptoms, patch.Symptoms)
	st.AttemptedFixes = appendUnique(st.AttemptedFixes, patch.AttemptedFixes)

	if len(patch.Messages) > 0 {
		st.History = append(st.History, patch.Messages...)
		st.MessageCount += len(patch.Messages)
	}

	return s.Save(ctx, sessionID, st)
}

// Delete removes a session record.
func (s *Store) Delete(sessionID string) {
	s.kv.Remove(s.key(sessionID))
}

// Start runs the background sweep until ctx is cancelled.
func (s *Store) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Sweep scans all persisted session keys and removes any whose record is
// expired or fails to parse outright. A record with mistyped fields is not
// swept: it is still repairable on the next read, and deleting it would
// destroy a live session written by an older schema. A missing or mistyped
// timestamp also keeps the record, matching repairState, which stamps it
// fresh on the next read.
func (s *Store) Sweep() int {
	removed := 0
	for _, key := range s.kv.Keys(s.config.KeyPrefix) {
		raw, ok := s.kv.Get(key)
		if !ok {
			continue
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			s.kv.Remove(key)
			removed++
			continue
		}
		ts, ok := decoded["_timestamp"].(float64)
		if ok && ts > 0 && s.now().UnixMilli()-int64(ts) > s.config.Timeout.Milliseconds() {
			s.kv.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("session sweep complete", zap.Int("removed", removed))
	}
	return removed
}

// reset persists and returns a fresh default state for sessionID.
func (s *Store) reset(sessionID, reason string) State {
	st := defaultState(sessionID, s.now())
	if err := s.persist(sessionID, st); err != nil {
		s.logger.Warn("failed to persist fresh session state",
			zap.String("session_id", sessionID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
	return st
}

func (s *Store) persist(sessionID string, st State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.kv.Set(s.key(sessionID), string(b))
}

func mergeTopics(base, patch Topics) Topics {
	return Topics{
		AskedManufacturer: base.AskedManufacturer || patch.AskedManufacturer,
		AskedModel:        base.AskedModel || patch.AskedModel,
		AskedSystemType:   base.AskedSystemType || patch.AskedSystemType,
		AskedFaultCode:    base.AskedFaultCode || patch.AskedFaultCode,
	}
}

func appendUnique(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base))
	for _, v := range base {
		seen[v] = struct{}{}
	}
	for _, v := range extra {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		base = append(base, v)
	}
	return base
}
