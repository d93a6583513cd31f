package bridge

import (
	"encoding/json"
	"fmt"
)

// Envelope is the uniform response shape. Exactly one of Result and Error
// is meaningful, selected by OK.
type Envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody describes a failure.
type ErrorBody struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Success wraps a handler result. A result that cannot be serialized turns
// into an EngineFailure envelope so that every response stays well-formed.
func Success(result any) Envelope {
	data, err := json.Marshal(result)
	if err != nil {
		return Failure(EngineFailure(err, "failed to encode result"))
	}
	return Envelope{OK: true, Result: data}
}

// Failure wraps an error, classifying it first.
func Failure(err error) Envelope {
	be := classify(err)
	if be == nil {
		be = newError(KindEngineFailure, "unspecified failure")
	}
	return Envelope{
		OK: false,
		Error: &ErrorBody{
			Kind:    be.Kind,
			Message: be.Message,
		},
	}
}

// Err converts a failed envelope back into a Go error; nil when OK.
func (e Envelope) Err() error {
	if e.OK {
		return nil
	}
	if e.Error == nil {
		return newError(KindEngineFailure, "malformed error envelope")
	}
	return &Error{Kind: e.Error.Kind, Message: e.Error.Message}
}

// Decode unmarshals the result into v.
func (e Envelope) Decode(v any) error {
	if err := e.Err(); err != nil {
		return err
	}
	if err := json.Unmarshal(e.Result, v); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}
