package session

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthlabs/boilerd/internal/kv"
)

func newTestStore(t *testing.T, store kv.Store, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(DefaultConfig(), store, nil, opts...)
	require.NoError(t, err)
	return s
}

func TestContext_CreatesDefaultOnMiss(t *testing.T) {
	mem := kv.NewMemoryStore()
	s := newTestStore(t, mem)

	st := s.Context(context.Background(), "sess-1")

	assert.Equal(t, "sess-1", st.SessionID)
	assert.Equal(t, StageGreeting, st.Stage)
	assert.Equal(t, []string{}, st.FaultCodes)
	assert.Equal(t, []string{}, st.Symptoms)
	assert.Equal(t, 0, st.MessageCount)

	// Created state is persisted.
	_, ok := mem.Get("session:sess-1")
	assert.True(t, ok)

	// A second call with no writes in between returns an equal state.
	again := s.Context(context.Background(), "sess-1")
	assert.Equal(t, st, again)
}

func TestContext_RepairsMistypedFields(t *testing.T) {
	mem := kv.NewMemoryStore()
	s := newTestStore(t, mem)

	// fault_codes as a string, message_count as a string, stage bogus.
	blob := `{
		"session_id": "sess-2",
		"manufacturer": "worcester",
		"fault_codes": "EA",
		"symptoms": ["no heat"],
		"message_count": "seven",
		"conversation_stage": "pondering",
		"_timestamp": ` + nowMillis() + `
	}`
	require.NoError(t, mem.Set("session:sess-2", blob))

	st := s.Context(context.Background(), "sess-2")

	assert.Equal(t, []string{}, st.FaultCodes, "mistyped array resets to default")
	assert.Equal(t, []string{"no heat"}, st.Symptoms, "valid neighbour fields are untouched")
	assert.Equal(t, "worcester", st.Manufacturer)
	assert.Equal(t, 0, st.MessageCount)
	assert.Equal(t, StageGreeting, st.Stage)
}

func TestContext_RepairsMissingFields(t *testing.T) {
	mem := kv.NewMemoryStore()
	s := newTestStore(t, mem)

	require.NoError(t, mem.Set("session:sess-3", `{"session_id":"sess-3","_timestamp":`+nowMillis()+`}`))

	st := s.Context(context.Background(), "sess-3")

	assert.Equal(t, []string{}, st.FaultCodes)
	assert.Equal(t, []string{}, st.AttemptedFixes)
	assert.Equal(t, []Message{}, st.History)
	assert.Equal(t, StageGreeting, st.Stage)
}

func TestContext_CorruptBlobIsReset(t *testing.T) {
	mem := kv.NewMemoryStore()
	s := newTestStore(t, mem)

	require.NoError(t, mem.Set("session:sess-4", `{not json`))

	st := s.Context(context.Background(), "sess-4")
	assert.Equal(t, StageGreeting, st.Stage)

	// The reset state replaced the corrupt blob.
	raw, ok := mem.Get("session:sess-4")
	require.True(t, ok)
	var decoded State
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, "sess-4", decoded.SessionID)
}

func TestContext_ExpiredSessionTreatedAsAbsent(t *testing.T) {
	now := time.Now()
	mem := kv.NewMemoryStore()
	s := newTestStore(t, mem, WithClock(func() time.Time { return now }))

	st := s.Create(context.Background(), "sess-5", nil)
	st = s.Update(context.Background(), "sess-5", Patch{Symptoms: []string{"banging noise"}})
	require.Equal(t, []string{"banging noise"}, st.Symptoms)

	// Advance past the inactivity window.
	now = now.Add(s.config.Timeout + time.Minute)

	fresh := s.Context(context.Background(), "sess-5")
	assert.Empty(t, fresh.Symptoms, "stale data must not be returned")
	assert.Equal(t, StageGreeting, fresh.Stage)
}

func TestUpdate_AppliesPatch(t *testing.T) {
	mem := kv.NewMemoryStore()
	s := newTestStore(t, mem)

	man := "worcester"
	stage := StageDiagnosing
	st := s.Update(context.Background(), "sess-6", Patch{
		Manufacturer: &man,
		Stage:        &stage,
		FaultCodes:   []string{"EA"},
		Messages: []Message{
			{Role: "user", Content: "getting EA on the display"},
		},
		Topics: &Topics{AskedFaultCode: true},
	})

	assert.Equal(t, "worcester", st.Manufacturer)
	assert.Equal(t, StageDiagnosing, st.Stage)
	assert.Equal(t, []string{"EA"}, st.FaultCodes)
	assert.Equal(t, 1, st.MessageCount)
	assert.True(t, st.TopicsCovered.AskedFaultCode)

	// Appends are deduplicated.
	st = s.Update(context.Background(), "sess-6", Patch{FaultCodes: []string{"EA", "E9"}})
	assert.Equal(t, []string{"EA", "E9"}, st.FaultCodes)
}

func TestUpdate_InvalidStageIgnored(t *testing.T) {
	mem := kv.NewMemoryStore()
	s := newTestStore(t, mem)

	bogus := Stage("pondering")
	st := s.Update(context.Background(), "sess-7", Patch{Stage: &bogus})
	assert.Equal(t, StageGreeting, st.Stage)
}

func TestSave_QuotaFailureIsNotFatal(t *testing.T) {
	// Room for roughly one small record only.
	mem := kv.NewMemoryStoreWithQuota(400)
	s := newTestStore(t, mem)

	st := defaultState("sess-8", time.Now())
	for i := 0; i < 50; i++ {
		st.Symptoms = append(st.Symptoms, "radiators cold upstairs, pump running continuously")
	}

	// Oversized save must not panic or error; the fallback minimal state
	// is persisted instead.
	saved := s.Save(context.Background(), "sess-8", st)
	assert.Equal(t, "sess-8", saved.SessionID)

	raw, ok := mem.Get("session:sess-8")
	require.True(t, ok, "fallback minimal state should be persisted")
	var decoded State
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Empty(t, decoded.Symptoms)
}

func TestSweep_RemovesExpiredAndCorrupt(t *testing.T) {
	now := time.Now()
	mem := kv.NewMemoryStore()
	s := newTestStore(t, mem, WithClock(func() time.Time { return now }))

	s.Create(context.Background(), "live", nil)
	require.NoError(t, mem.Set("session:corrupt", `{{{`))

	stale := defaultState("stale", now.Add(-2*s.config.Timeout))
	b, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, mem.Set("session:stale", string(b)))

	removed := s.Sweep()

	assert.Equal(t, 2, removed)
	_, ok := mem.Get("session:live")
	assert.True(t, ok)
	_, ok = mem.Get("session:corrupt")
	assert.False(t, ok)
	_, ok = mem.Get("session:stale")
	assert.False(t, ok)
}

func TestSweep_KeepsFreshRepairableRecords(t *testing.T) {
	mem := kv.NewMemoryStore()
	s := newTestStore(t, mem)

	// Valid JSON with a mistyped field, as an older app version might have
	// written it. Fresh timestamp, so only the field needs repair.
	blob := `{"session_id":"drifted","fault_codes":"EA","_timestamp":` + nowMillis() + `}`
	require.NoError(t, mem.Set("session:drifted", blob))

	removed := s.Sweep()

	assert.Equal(t, 0, removed)
	_, ok := mem.Get("session:drifted")
	require.True(t, ok, "a fresh record with a mistyped field is repaired on read, not swept")

	st := s.Context(context.Background(), "drifted")
	assert.Equal(t, []string{}, st.FaultCodes)
	assert.Equal(t, "drifted", st.SessionID)
}

func TestStart_SweepRunsInBackground(t *testing.T) {
	mem := kv.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.SweepInterval = 20 * time.Millisecond
	cfg.Timeout = 10 * time.Millisecond
	s, err := NewStore(cfg, mem, nil)
	require.NoError(t, err)

	s.Create(context.Background(), "ephemeral", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	assert.Eventually(t, func() bool {
		_, ok := mem.Get("session:ephemeral")
		return !ok
	}, time.Second, 10*time.Millisecond, "expired session should be swept")
}

func nowMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
