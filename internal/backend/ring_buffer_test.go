package backend

import (
	"fmt"
	"testing"

	"codecollab/internal/protocol"
)

func makeChat(id int) protocol.ChatPayload {
	return protocol.ChatPayload{
		Text:        fmt.Sprintf("line-%d", id),
		UserID:      "u-1",
		DisplayName: "alice",
	}
}

func TestRingBuffer_EmptyRead(t *testing.T) {
	rb := NewRingBuffer[protocol.ChatPayload](10)
	items := rb.ReadAll()
	if len(items) != 0 {
		t.Errorf("expected empty buffer, got %d items", len(items))
	}
}

func TestRingBuffer_PartialFill(t *testing.T) {
	rb := NewRingBuffer[protocol.ChatPayload](10)
	for i := 0; i < 5; i++ {
		rb.Write(makeChat(i))
	}

	items := rb.ReadAll()
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}
	for i, m := range items {
		if want := fmt.Sprintf("line-%d", i); m.Text != want {
			t.Errorf("item %d: expected %s, got %s", i, want, m.Text)
		}
	}
}

func TestRingBuffer_Overflow(t *testing.T) {
	rb := NewRingBuffer[protocol.ChatPayload](5)
	for i := 0; i < 8; i++ {
		rb.Write(makeChat(i))
	}

	items := rb.ReadAll()
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}
	// Oldest three dropped.
	for i, m := range items {
		if want := fmt.Sprintf("line-%d", i+3); m.Text != want {
			t.Errorf("item %d: expected %s, got %s", i, want, m.Text)
		}
	}
	if rb.Len() != 5 {
		t.Errorf("expected Len 5, got %d", rb.Len())
	}
}

func TestRingBuffer_ZeroCapacity(t *testing.T) {
	rb := NewRingBuffer[protocol.ChatPayload](0)
	rb.Write(makeChat(1))
	if rb.Len() != 0 || len(rb.ReadAll()) != 0 {
		t.Error("expected zero-capacity buffer to hold nothing")
	}
}
