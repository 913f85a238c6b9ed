package params

import (
	"encoding/json"
)

// Trace captures how a parameter was resolved for a merchant: every level
// that was consulted, in chain order, followed by the default.
type Trace struct {
	Parameter  string       `json:"parameter"`
	MerchantID string       `json:"merchant_id"`
	Degraded   bool         `json:"degraded,omitempty"`
	Levels     []Provenance `json:"levels"`
}

// Provenance details how a single level contributed to the traced parameter.
type Provenance struct {
	Level   ChainLevel `json:"level"`
	Found   bool       `json:"found"`
	Applied bool       `json:"applied"`
	Value   *Value     `json:"value,omitempty"`
	Version int        `json:"version,omitempty"`
}

// Effective returns the provenance entry whose value was applied.
func (t Trace) Effective() (Provenance, bool) {
	for _, level := range t.Levels {
		if level.Applied {
			return level, true
		}
	}
	return Provenance{}, false
}

// ToJSON serialises the trace into JSON for logging or transport helpers.
func (t Trace) ToJSON() ([]byte, error) {
	type alias Trace
	return json.Marshal(alias(t))
}

// TraceFromJSON deserialises a JSON payload that was previously generated via
// ToJSON.
func TraceFromJSON(payload []byte) (Trace, error) {
	type alias Trace
	var trace alias
	if err := json.Unmarshal(payload, &trace); err != nil {
		return Trace{}, err
	}
	return Trace(trace), nil
}
