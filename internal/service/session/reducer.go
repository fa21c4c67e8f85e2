package session

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/zhouzirui/jobchat/internal/model/chat"
)

// decodeFrame extracts a chat frame. ok is false for anything that is not a
// well-formed chat_message frame; such frames are ignored.
func decodeFrame(raw []byte) (chat.InboundFrame, bool) {
	var frame chat.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return chat.InboundFrame{}, false
	}
	if frame.Type != chat.FrameChatMessage {
		return chat.InboundFrame{}, false
	}
	return frame, true
}

// ApplyInbound folds one raw live frame into the active session. It reports
// whether the frame produced a message.
func (c *Controller) ApplyInbound(raw []byte) bool {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return false
	}
	return c.apply(s, raw)
}

func (c *Controller) apply(s *session, raw []byte) bool {
	frame, ok := decodeFrame(raw)
	if !ok {
		c.opts.logger.Debug().Int("bytes", len(raw)).Msg("ignoring unrecognised frame")
		return false
	}

	c.mu.Lock()
	if !c.currentLocked(s) {
		c.mu.Unlock()
		return false
	}
	msg := chat.Message{
		ID:        uuid.NewString(),
		JobID:     s.params.JobID,
		SenderID:  frame.SenderID.String(),
		Content:   frame.Message,
		CreatedAt: c.opts.clock(),
		Origin:    chat.OriginLive,
	}
	if !s.historyLoaded && c.opts.ordering == Buffered {
		s.pending = append(s.pending, msg)
	} else {
		s.messages = append(s.messages, msg)
	}
	fromOther := !msg.FromUser(s.params.LocalUserID)
	c.mu.Unlock()

	if fromOther {
		c.notify(msg)
	}
	return true
}

// notify fires the side effect without letting it block or panic into the
// reducer.
func (c *Controller) notify(msg chat.Message) {
	n := c.opts.notifier
	if n == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.opts.logger.Error().Interface("panic", r).Msg("notifier panicked")
			}
		}()
		n.Notify(msg)
	}()
}
