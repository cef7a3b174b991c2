package domain

import "encoding/json"

// Trigger is the structured dictionary attached to an execution's launch.
// It is opaque except for two fields the repository understands:
// correlationId, used by the Correlation Index, and a nested
// parentExecution, reified recursively into an *Execution on decode.
type Trigger struct {
	Data map[string]interface{}
}

// CorrelationID returns the trigger's correlationId, or "" if absent.
func (t Trigger) CorrelationID() string {
	if t.Data == nil {
		return ""
	}
	if v, ok := t.Data["correlationId"].(string); ok {
		return v
	}
	return ""
}

// ParentExecution reifies the nested parentExecution, if present, into an
// *Execution. The nested record carries only the top-level scalar fields
// present in its JSON blob; it is never re-decoded with its own stages.
func (t Trigger) ParentExecution() (*Execution, bool) {
	if t.Data == nil {
		return nil, false
	}
	raw, ok := t.Data["parentExecution"]
	if !ok {
		return nil, false
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, false
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, false
	}
	var parent Execution
	if err := json.Unmarshal(b, &parent); err != nil {
		return nil, false
	}
	return &parent, true
}

// IsZero reports whether the trigger carries no data at all.
func (t Trigger) IsZero() bool {
	return len(t.Data) == 0
}

func (t Trigger) MarshalJSON() ([]byte, error) {
	if t.Data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(t.Data)
}

func (t *Trigger) UnmarshalJSON(b []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	t.Data = m
	return nil
}
