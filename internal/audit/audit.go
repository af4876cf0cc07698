package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Entry records one user-visible action against local or remote state.
type Entry struct {
	Actor      string          `json:"actor,omitempty"`
	Action     string          `json:"action"`
	ResourceID string          `json:"resource_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	IP         string          `json:"ip,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	At         time.Time       `json:"at"`
}

// Logger records audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// StdLogger writes audit entries to the process log.
type StdLogger struct{}

// Log implements Logger.
func (StdLogger) Log(_ context.Context, entry Entry) error {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	log.Printf("audit: %s", payload)
	return nil
}
