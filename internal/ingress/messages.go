package ingress

import (
	"encoding/json"
	"fmt"

	"github.com/duskwatch/evidence/internal/canon"
)

// Incoming is the closed set of message kinds the ingress server dispatches
// on. The on-wire "type" is a string, but decoding resolves it once into
// this tagged variant so dispatch logic lives in one place instead of being
// spread across string comparisons.
type Incoming interface {
	isIncoming()
}

// Stop requests the writer be sealed and the accept loop terminated.
type Stop struct {
	Reason string
}

func (Stop) isIncoming() {}

// FileAdded copies sourcePath into the bundle under relPath, tagged with
// kind, then appends a file_added event.
type FileAdded struct {
	SourcePath string
	RelPath    string
	Kind       string
}

func (FileAdded) isIncoming() {}

// ShotSaved copies sourcePath into the bundle under relPath, then appends a
// shot_saved event.
type ShotSaved struct {
	SourcePath string
	RelPath    string
}

func (ShotSaved) isIncoming() {}

// Other carries every message type not otherwise recognized; its payload is
// appended to the event log unchanged.
type Other struct {
	Type    string
	Payload interface{}
}

func (Other) isIncoming() {}

type wireFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Parse decodes one line of the wire protocol into an Incoming value.
func Parse(line []byte) (Incoming, error) {
	var frame wireFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("missing required field: type")
	}

	switch frame.Type {
	case "stop":
		var p struct {
			Reason string `json:"reason"`
		}
		if len(frame.Payload) > 0 {
			if err := json.Unmarshal(frame.Payload, &p); err != nil {
				return nil, fmt.Errorf("invalid stop payload: %w", err)
			}
		}
		if p.Reason == "" {
			p.Reason = "unknown"
		}
		return Stop{Reason: p.Reason}, nil

	case "file_added":
		var p struct {
			SourcePath string `json:"source_path"`
			RelPath    string `json:"rel_path"`
			Kind       string `json:"kind"`
		}
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid file_added payload: %w", err)
		}
		if p.SourcePath == "" || p.RelPath == "" || p.Kind == "" {
			return nil, fmt.Errorf("missing required field in file_added payload")
		}
		return FileAdded{SourcePath: p.SourcePath, RelPath: p.RelPath, Kind: p.Kind}, nil

	case "shot_saved":
		var p struct {
			SourcePath string `json:"source_path"`
			RelPath    string `json:"rel_path"`
		}
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid shot_saved payload: %w", err)
		}
		if p.SourcePath == "" || p.RelPath == "" {
			return nil, fmt.Errorf("missing required field in shot_saved payload")
		}
		return ShotSaved{SourcePath: p.SourcePath, RelPath: p.RelPath}, nil

	default:
		var payload interface{}
		if len(frame.Payload) > 0 {
			decoded, err := decodeRawMessage(frame.Payload)
			if err != nil {
				return nil, fmt.Errorf("invalid payload: %w", err)
			}
			payload = decoded
		}
		return Other{Type: frame.Type, Payload: payload}, nil
	}
}

// decodeRawMessage decodes with canon.Decode so number literals keep their
// original spelling instead of being collapsed to float64.
func decodeRawMessage(raw json.RawMessage) (interface{}, error) {
	return canon.Decode(raw)
}
