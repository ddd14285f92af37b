package store

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// QueueEvent is one link in the append-only, hash-chained audit trail
// written alongside every allocation and transition.
type QueueEvent struct {
	AppointmentID string          `json:"appointment_id"`
	Seq           int             `json:"seq"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	PrevHash      string          `json:"prev_hash"`
	Hash          string          `json:"hash"`
}

func ComputeQueueEventHash(prevHash, appointmentID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, appointmentID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

var ErrEventChainBroken = errors.New("queue event chain broken")

// VerifyQueueEvents recomputes the hash chain and fails on the first
// link whose hash or back-pointer does not match.
func VerifyQueueEvents(events []QueueEvent) error {
	prev := ""
	for i, event := range events {
		if event.PrevHash != prev {
			return fmt.Errorf("%w: event %d prev_hash mismatch", ErrEventChainBroken, i)
		}
		expected := ComputeQueueEventHash(event.PrevHash, event.AppointmentID, event.Type, event.Payload, event.CreatedAt, event.Seq)
		if event.Hash != expected {
			return fmt.Errorf("%w: event %d hash mismatch", ErrEventChainBroken, i)
		}
		prev = event.Hash
	}
	return nil
}
