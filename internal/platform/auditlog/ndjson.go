package auditlog

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
)

// NDJSONRecorder writes audit events as newline-delimited JSON.
type NDJSONRecorder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewNDJSONRecorder(w io.Writer) *NDJSONRecorder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	return &NDJSONRecorder{enc: enc}
}

type exportEvent struct {
	OccurredAt      string          `json:"occurred_at"`
	Actor           string          `json:"actor"`
	Action          string          `json:"action"`
	ResourceType    string          `json:"resource_type"`
	ResourceID      string          `json:"resource_id"`
	Environment     string          `json:"environment,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	IntegritySHA256 string          `json:"integrity_sha256"`
}

func (r *NDJSONRecorder) Record(ctx context.Context, event Event) error {
	payloadJSON, integrity, err := prepare(&event)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(exportEvent{
		OccurredAt:      event.OccurredAt.UTC().Format(timeFormatRFC3339Nano),
		Actor:           strings.TrimSpace(event.Actor),
		Action:          strings.TrimSpace(event.Action),
		ResourceType:    strings.TrimSpace(event.ResourceType),
		ResourceID:      strings.TrimSpace(event.ResourceID),
		Environment:     strings.TrimSpace(event.Environment),
		Payload:         payloadJSON,
		IntegritySHA256: integrity,
	})
}

// NopRecorder drops every event.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) error {
	return nil
}

const timeFormatRFC3339Nano = "2006-01-02T15:04:05.999999999Z07:00"
