package auditlog

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func testEvent() Event {
	return Event{
		OccurredAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Actor:        "deployctl",
		Action:       "deployment.failed",
		ResourceType: "deployment",
		ResourceID:   "d-1",
		Environment:  "production",
		Payload:      map[string]any{"version": "1.2.0"},
	}
}

func TestValidate(t *testing.T) {
	ev := testEvent()
	ev.Action = " "
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error for empty action")
	}
	if err := testEvent().Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestIntegrityStableAndSensitive(t *testing.T) {
	payload := []byte(`{"version":"1.2.0"}`)
	a, err := ComputeIntegritySHA256(testEvent(), payload)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, _ := ComputeIntegritySHA256(testEvent(), payload)
	if a != b || len(a) != 64 {
		t.Fatalf("integrity not stable: %s vs %s", a, b)
	}
	changed := testEvent()
	changed.ResourceID = "d-2"
	c, _ := ComputeIntegritySHA256(changed, payload)
	if c == a {
		t.Fatalf("integrity did not change with resource id")
	}
}

func TestNDJSONRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec := NewNDJSONRecorder(&buf)
	if err := rec.Record(context.Background(), testEvent()); err != nil {
		t.Fatalf("Record() err=%v", err)
	}
	if err := rec.Record(context.Background(), Event{}); err == nil {
		t.Fatalf("expected validation error")
	}

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("lines=%d", len(lines))
	}
	var got map[string]any
	if err := json.Unmarshal(lines[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["action"] != "deployment.failed" || got["environment"] != "production" {
		t.Fatalf("event=%v", got)
	}
	want, _ := ComputeIntegritySHA256(testEvent(), []byte(`{"version":"1.2.0"}`))
	if got["integrity_sha256"] != want {
		t.Fatalf("integrity=%v want %s", got["integrity_sha256"], want)
	}
}

func TestInsertRequiresQueryer(t *testing.T) {
	if _, err := Insert(context.Background(), nil, testEvent()); err == nil {
		t.Fatalf("expected error")
	}
}
