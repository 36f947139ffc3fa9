package session

import (
	"encoding/json"
	"time"
)

// repairState rebuilds a State from a decoded JSON object, replacing every
// missing or mistyped field with its schema default. Fields that pass their
// type check are carried over untouched; a bad field never poisons its
// neighbours.
func repairState(sessionID string, raw map[string]any, now time.Time) State {
	st := defaultState(sessionID, now)
	if raw == nil {
		return st
	}

	st.Manufacturer = stringField(raw, "manufacturer", st.Manufacturer)
	st.Model = stringField(raw, "model", st.Model)
	st.SystemType = stringField(raw, "system_type", st.SystemType)
	st.GCNumber = stringField(raw, "gc_number", st.GCNumber)

	st.FaultCodes = stringSliceField(raw, "fault_codes")
	st.Symptoms = stringSliceField(raw, "symptoms")
	st.AttemptedFixes = stringSliceField(raw, "attempted_fixes")

	if v, ok := raw["conversation_stage"].(string); ok && Stage(v).Valid() {
		st.Stage = Stage(v)
	}

	if v, ok := raw["message_count"].(float64); ok && v >= 0 {
		st.MessageCount = int(v)
	}

	if v, ok := raw["detail_mode"].(bool); ok {
		st.DetailMode = v
	}

	if v, ok := raw["topics_covered"].(map[string]any); ok {
		st.TopicsCovered = Topics{
			AskedManufacturer: boolField(v, "asked_manufacturer"),
			AskedModel:        boolField(v, "asked_model"),
			AskedSystemType:   boolField(v, "asked_system_type"),
			AskedFaultCode:    boolField(v, "asked_fault_code"),
		}
	}

	// last_diagnosis must be a plain object: not absent, not null, not an
	// array. Anything else resets to the default (no diagnosis).
	if v, ok := raw["last_diagnosis"].(map[string]any); ok {
		st.LastDiagnosis = decodeDiagnosis(v)
	}

	if v, ok := raw["complete_history"].([]any); ok {
		st.History = decodeHistory(v)
	}

	if v, ok := raw["_timestamp"].(float64); ok && v > 0 {
		st.UpdatedAt = int64(v)
	}

	return st
}

// normalize repairs a typed State in place before persistence: nil slices
// become empty, an invalid stage resets to greeting, a negative count to
// zero.
func normalize(st *State) {
	if st.FaultCodes == nil {
		st.FaultCodes = []string{}
	}
	if st.Symptoms == nil {
		st.Symptoms = []string{}
	}
	if st.AttemptedFixes == nil {
		st.AttemptedFixes = []string{}
	}
	if st.History == nil {
		st.History = []Message{}
	}
	if !st.Stage.Valid() {
		st.Stage = StageGreeting
	}
	if st.MessageCount < 0 {
		st.MessageCount = 0
	}
}

func stringField(raw map[string]any, key, def string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return def
}

func boolField(raw map[string]any, key string) bool {
	v, _ := raw[key].(bool)
	return v
}

func stringSliceField(raw map[string]any, key string) []string {
	out := []string{}
	items, ok := raw[key].([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func decodeDiagnosis(raw map[string]any) *Diagnosis {
	// Round-trip through JSON so the struct tags do the field mapping.
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var d Diagnosis
	if err := json.Unmarshal(b, &d); err != nil {
		return nil
	}
	return &d
}

func decodeHistory(items []any) []Message {
	history := []Message{}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, okRole := m["role"].(string)
		content, okContent := m["content"].(string)
		if !okRole || !okContent {
			continue
		}
		msg := Message{Role: role, Content: content}
		if ts, ok := m["timestamp"].(string); ok {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				msg.Timestamp = t
			}
		}
		history = append(history, msg)
	}
	return history
}
