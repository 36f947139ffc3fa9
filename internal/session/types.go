// Package session maintains per-session conversation state for the
// diagnostic dialogue. Every read and write passes through a schema-driven
// validate-and-repair step, so the store tolerates partially corrupted
// persisted blobs, schema drift between application versions, and
// hand-edited storage. Records expire after an inactivity window and are
// swept by a background goroutine.
package session

import "time"

// Stage is the linear dialogue state machine. The store only validates and
// persists the stage; the dialogue driver decides transitions.
type Stage string

const (
	StageGreeting   Stage = "greeting"
	StageGathering  Stage = "gathering"
	StageDiagnosing Stage = "diagnosing"
	StageSuggesting Stage = "suggesting"
)

// Valid reports whether s is a member of the stage enum.
func (s Stage) Valid() bool {
	switch s {
	case StageGreeting, StageGathering, StageDiagnosing, StageSuggesting:
		return true
	}
	return false
}

// Message is one turn of the conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Topics tracks which gathering questions have already been asked, so the
// dialogue driver does not repeat itself.
type Topics struct {
	AskedManufacturer bool `json:"asked_manufacturer"`
	AskedModel        bool `json:"asked_model"`
	AskedSystemType   bool `json:"asked_system_type"`
	AskedFaultCode    bool `json:"asked_fault_code"`
}

// Diagnosis is the last resolution handed to the user.
type Diagnosis struct {
	FaultCode     string `json:"fault_code,omitempty"`
	Manufacturer  string `json:"manufacturer,omitempty"`
	Summary       string `json:"summary,omitempty"`
	ManualLink    string `json:"manual_link,omitempty"`
	RegulationRef string `json:"regulation_ref,omitempty"`
}

// State is the per-session conversation record. One instance per active
// session, never shared across sessions.
type State struct {
	SessionID      string     `json:"session_id"`
	Manufacturer   string     `json:"manufacturer,omitempty"`
	Model          string     `json:"model,omitempty"`
	SystemType     string     `json:"system_type,omitempty"` // combi, system or standard
	GCNumber       string     `json:"gc_number,omitempty"`
	FaultCodes     []string   `json:"fault_codes"`
	Symptoms       []string   `json:"symptoms"`
	AttemptedFixes []string   `json:"attempted_fixes"`
	Stage          Stage      `json:"conversation_stage"`
	MessageCount   int        `json:"message_count"`
	TopicsCovered  Topics     `json:"topics_covered"`
	LastDiagnosis  *Diagnosis `json:"last_diagnosis,omitempty"`
	History        []Message  `json:"complete_history"`
	DetailMode     bool       `json:"detail_mode"`
	UpdatedAt      int64      `json:"_timestamp"` // epoch milliseconds
}

// Patch is a partial update applied by the dialogue driver. Nil pointer
// fields leave the current value untouched; slice fields append.
type Patch struct {
	Manufacturer   *string    `json:"manufacturer,omitempty"`
	Model          *string    `json:"model,omitempty"`
	SystemType     *string    `json:"system_type,omitempty"`
	GCNumber       *string    `json:"gc_number,omitempty"`
	FaultCodes     []string   `json:"fault_codes,omitempty"`
	Symptoms       []string   `json:"symptoms,omitempty"`
	AttemptedFixes []string   `json:"attempted_fixes,omitempty"`
	Stage          *Stage     `json:"conversation_stage,omitempty"`
	DetailMode     *bool      `json:"detail_mode,omitempty"`
	LastDiagnosis  *Diagnosis `json:"last_diagnosis,omitempty"`
	Topics         *Topics    `json:"topics_covered,omitempty"`
	Messages       []Message  `json:"messages,omitempty"`
}

// defaultState returns the schema default shape for a session.
func defaultState(sessionID string, now time.Time) State {
	return State{
		SessionID:      sessionID,
		FaultCodes:     []string{},
		Symptoms:       []string{},
		AttemptedFixes: []string{},
		Stage:          StageGreeting,
		History:        []Message{},
		UpdatedAt:      now.UnixMilli(),
	}
}
