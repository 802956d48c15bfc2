package session

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StageData is the opaque protocol state kept on a stage. Each stage type
// has exactly one data variant, so a stage can only carry state of its own ceremony.
type StageData interface {
	StageType() StageType
}

// TriplesData is the state of a triples ceremony. Result and Commitment are
// set once the stage completes.
type TriplesData struct {
	State      json.RawMessage `json:"state,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Commitment string          `json:"commitment,omitempty"`
}

func (TriplesData) StageType() StageType { return StageTriples }

// PresignData is the state of a presign ceremony. Result and BigR are set once the stage completes.
type PresignData struct {
	State  json.RawMessage `json:"state,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	BigR   string          `json:"big_r,omitempty"`
}

func (PresignData) StageType() StageType { return StagePresign }

// SignData is the state of a sign ceremony.
type SignData struct {
	State       json.RawMessage `json:"state,omitempty"`
	MessageHash string          `json:"message_hash"`
	BigR        string          `json:"big_r,omitempty"`
	S           string          `json:"s,omitempty"`
}

func (SignData) StageType() StageType { return StageSign }

// EncodeData serializes d for storage.
func EncodeData(d StageData) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("nil stage data")
	}
	return json.Marshal(d)
}

// DecodeData parses stored data for a stage of type t.
func DecodeData(t StageType, raw []byte) (StageData, error) {
	switch t {
	case StageTriples:
		var d TriplesData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("failed to decode triples data: %w", err)
		}
		return d, nil
	case StagePresign:
		var d PresignData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("failed to decode presign data: %w", err)
		}
		return d, nil
	case StageSign:
		var d SignData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("failed to decode sign data: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown stage type %q", t)
	}
}

// cloneData copies the raw state held by d so the copy shares no buffers
// with the caller.
func cloneData(d StageData) StageData {
	switch v := d.(type) {
	case TriplesData:
		v.State, v.Result = bytes.Clone(v.State), bytes.Clone(v.Result)
		return v
	case PresignData:
		v.State, v.Result = bytes.Clone(v.State), bytes.Clone(v.Result)
		return v
	case SignData:
		v.State = bytes.Clone(v.State)
		return v
	default:
		return d
	}
}

// ValidateData checks that d is the data variant of stage type t.
func ValidateData(t StageType, d StageData) error {
	if d == nil {
		return fmt.Errorf("nil data for %s stage", t)
	}
	if d.StageType() != t {
		return fmt.Errorf("%s data on %s stage", d.StageType(), t)
	}
	return nil
}
