package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"wellness-sessions/internal/model"
)

type countingInvalidator struct {
	calls int
	err   error
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return c.err
}

func encode(t *testing.T, event model.SessionEvent) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name      string
		event     model.SessionEvent
		wantCalls int
	}{
		{
			name:      "publish invalidates",
			event:     model.SessionEvent{Type: model.SessionEventSaved, Status: model.StatusPublished},
			wantCalls: 1,
		},
		{
			name:      "unpublish invalidates",
			event:     model.SessionEvent{Type: model.SessionEventSaved, Status: model.StatusDraft, PreviousStatus: model.StatusPublished},
			wantCalls: 1,
		},
		{
			name:      "draft save skipped",
			event:     model.SessionEvent{Type: model.SessionEventSaved, Status: model.StatusDraft},
			wantCalls: 0,
		},
		{
			name:      "deleting published invalidates",
			event:     model.SessionEvent{Type: model.SessionEventDeleted, PreviousStatus: model.StatusPublished},
			wantCalls: 1,
		},
		{
			name:      "deleting draft skipped",
			event:     model.SessionEvent{Type: model.SessionEventDeleted, PreviousStatus: model.StatusDraft},
			wantCalls: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &countingInvalidator{}
			w := NewListingInvalidationWorker(nil, inv, "q", zerolog.Nop())
			if err := w.handle(context.Background(), encode(t, tt.event)); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if inv.calls != tt.wantCalls {
				t.Fatalf("invalidate calls = %d, want %d", inv.calls, tt.wantCalls)
			}
		})
	}
}

func TestHandleErrors(t *testing.T) {
	w := NewListingInvalidationWorker(nil, &countingInvalidator{}, "q", zerolog.Nop())
	if err := w.handle(context.Background(), []byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}

	boom := errors.New("redis down")
	w = NewListingInvalidationWorker(nil, &countingInvalidator{err: boom}, "q", zerolog.Nop())
	body := encode(t, model.SessionEvent{Type: model.SessionEventSaved, Status: model.StatusPublished})
	if err := w.handle(context.Background(), body); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}
