package chat

import "time"

// Frame kinds on the live and notification channels.
const (
	FrameChatMessage   = "chat_message"
	FrameRequestUpdate = "request_update"
	FrameJobUpdate     = "job_update"
	FrameNewJob        = "new_job"
)

// InboundFrame is a frame pushed by the server on the chat channel.
type InboundFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SenderID  ID     `json:"sender_id"`
	Timestamp string `json:"timestamp,omitempty"`
}

// OutboundFrame is what a client writes to the chat channel. The server
// does not require a type field.
type OutboundFrame struct {
	Message string `json:"message"`
}

// Sender is the nested user object of a history record.
type Sender struct {
	ID       ID     `json:"id"`
	Username string `json:"username,omitempty"`
}

// HistoryRecord is one element of the REST history response.
type HistoryRecord struct {
	ID        ID        `json:"id"`
	Job       ID        `json:"job"`
	Sender    Sender    `json:"sender"`
	Receiver  ID        `json:"receiver,omitempty"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// ToMessage converts the record into a transcript entry.
func (r HistoryRecord) ToMessage() Message {
	return Message{
		ID:        r.ID.String(),
		JobID:     r.Job.String(),
		SenderID:  r.Sender.ID.String(),
		Content:   r.Content,
		Read:      r.IsRead,
		CreatedAt: r.CreatedAt,
		Origin:    OriginHistory,
	}
}

// Notification is a frame on the per-user notification channel.
type Notification struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload,omitempty"`
}
