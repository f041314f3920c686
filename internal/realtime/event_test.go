package realtime

import "testing"

func TestDecodeInboundJoin(t *testing.T) {
	event, payload, err := decodeInbound([]byte(`{"event":"joinDocument","data":{"docId":"d1","username":"alice"}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if event != EventJoinDocument {
		t.Errorf("expected joinDocument, got %s", event)
	}
	join := payload.(*JoinPayload)
	if join.DocID != "d1" || join.Username != "alice" {
		t.Errorf("unexpected payload: %+v", join)
	}
}

func TestDecodeInboundEditAllowsEmptyContent(t *testing.T) {
	// Clearing a document is a legitimate edit; only a missing content
	// field is malformed.
	_, payload, err := decodeInbound([]byte(`{"event":"editDocument","data":{"docId":"d1","content":""}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	edit := payload.(*EditPayload)
	if edit.Content == nil || *edit.Content != "" {
		t.Errorf("expected empty content, got %+v", edit.Content)
	}
}

func TestDecodeInboundRejections(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"invalid json", `{`},
		{"unknown event", `{"event":"deleteEverything","data":{}}`},
		{"missing payload", `{"event":"joinDocument"}`},
		{"join without username", `{"event":"joinDocument","data":{"docId":"d1"}}`},
		{"join without docId", `{"event":"joinDocument","data":{"username":"alice"}}`},
		{"edit without content", `{"event":"editDocument","data":{"docId":"d1"}}`},
		{"chat without message", `{"event":"chatMessage","data":{"docId":"d1","username":"alice"}}`},
		{"leave without username", `{"event":"leaveDocument","data":{"docId":"d1"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := decodeInbound([]byte(tc.data)); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}
