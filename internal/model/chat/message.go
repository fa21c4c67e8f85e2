package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Origin records how a message entered the transcript. Display only.
type Origin string

const (
	OriginHistory Origin = "history"
	OriginLive    Origin = "live"
)

// ID is an opaque identifier. The marketplace API emits numeric ids while
// other producers use strings, so both decode into the same form.
type ID string

// UnmarshalJSON accepts a JSON string, number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier as text.
func (id ID) String() string { return string(id) }

// Message is one line of a job conversation.
type Message struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Read      bool      `json:"read,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Origin    Origin    `json:"-"`
}

// FromUser reports whether userID authored the message.
func (m Message) FromUser(userID string) bool {
	return userID != "" && m.SenderID == userID
}
