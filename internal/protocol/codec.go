package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Worker stdout documents. Pointers distinguish a missing field from a zero value.
type checkFaceOutput struct {
	FaceDetected *bool `json:"faceDetected"`
}

type registerFaceOutput struct {
	Message   string `json:"message"`
	ID        *int64 `json:"id"`
	Timestamp string `json:"timestamp,omitempty"`
}

type recognizeOutput struct {
	Faces *[]FaceMatch `json:"faces"`
}

type chatOutput struct {
	Response    *string `json:"response"`
	SourceCount int     `json:"source_count"`
}

// timestampLayouts covers RFC 3339 and the zone-less ISO form Python's
// datetime.isoformat emits.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// DecodeResult parses one worker stdout document into the Result variant for
// kind. Returns an error if the output is empty, not JSON, or missing a
// required field.
func DecodeResult(kind Kind, data []byte) (Result, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("worker produced no output on stdout")
	}

	switch kind {
	case CheckFace:
		var out checkFaceOutput
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("worker output is not valid JSON: %w", err)
		}
		if out.FaceDetected == nil {
			return nil, fmt.Errorf("output missing required field: faceDetected")
		}
		return FaceCheck{Detected: *out.FaceDetected}, nil

	case RegisterFace:
		var out registerFaceOutput
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("worker output is not valid JSON: %w", err)
		}
		if out.ID == nil {
			return nil, fmt.Errorf("output missing required field: id")
		}
		reg := Registration{ID: *out.ID, Message: out.Message}
		if out.Timestamp != "" {
			ts, err := parseTimestamp(out.Timestamp)
			if err != nil {
				return nil, err
			}
			reg.CreatedAt = ts
		}
		return reg, nil

	case Recognize:
		var out recognizeOutput
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("worker output is not valid JSON: %w", err)
		}
		if out.Faces == nil {
			return nil, fmt.Errorf("output missing required field: faces")
		}
		faces := *out.Faces
		for i, f := range faces {
			if f.Confidence < 0 || f.Confidence > 1 {
				return nil, fmt.Errorf("faces[%d].confidence out of range [0,1]: %v", i, f.Confidence)
			}
		}
		if faces == nil {
			faces = []FaceMatch{}
		}
		return Recognition{Faces: faces}, nil

	case ChatQuery:
		var out chatOutput
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("worker output is not valid JSON: %w", err)
		}
		if out.Response == nil {
			return nil, fmt.Errorf("output missing required field: response")
		}
		return ChatAnswer{Text: *out.Response, SourceCount: out.SourceCount}, nil
	}

	return nil, fmt.Errorf("unknown invocation kind: %q", kind)
}

func parseTimestamp(v string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp: %q", v)
}
