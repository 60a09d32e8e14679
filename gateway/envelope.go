package gateway

import (
	"encoding/json"
	"fmt"
)

// Envelope is the body shape every backend endpoint returns.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// HasData reports whether the envelope carries a non-null data object.
func (e *Envelope) HasData() bool {
	return e != nil && len(e.Data) > 0 && string(e.Data) != "null"
}

// DecodeData unmarshals the envelope's data into T.
func DecodeData[T any](env *Envelope) (T, error) {
	var v T
	if !env.HasData() {
		return v, fmt.Errorf("envelope has no data")
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("decode envelope data: %w", err)
	}
	return v, nil
}
