package queue

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	env := Envelope{
		EventID:    "evt-1",
		EventType:  EventRunEnqueued,
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"run_id":"run-1"}`),
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	for _, broken := range []Envelope{
		{EventType: EventRunEnqueued, Data: env.Data},
		{EventID: "evt-1", Data: env.Data},
		{EventID: "evt-1", EventType: EventRunEnqueued},
	} {
		if err := broken.Validate(); err == nil {
			t.Fatalf("expected error for %+v", broken)
		}
	}
}

func TestRunRequestRoundTrip(t *testing.T) {
	req := RunRequest{RunID: "run-1", RerunFrom: "voice"}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got RunRequest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != req {
		t.Fatalf("round trip = %+v", got)
	}
	// Full-pipeline requests omit the stage entirely.
	data, _ = json.Marshal(RunRequest{RunID: "run-2"})
	if string(data) != `{"run_id":"run-2"}` {
		t.Fatalf("payload = %s", data)
	}
}
