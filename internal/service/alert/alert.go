// Package alert turns incoming messages into an audible cue.
package alert

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/jobchat/internal/model/chat"
	"github.com/zhouzirui/jobchat/pkg/logging"
)

const defaultGap = 300 * time.Millisecond

// Bell rings the terminal bell. Rings closer together than the gap are
// folded into one.
type Bell struct {
	mu     sync.Mutex
	out    io.Writer
	gap    time.Duration
	last   time.Time
	now    func() time.Time
	logger zerolog.Logger
}

// NewBell writes to out, or stderr when out is nil.
func NewBell(out io.Writer) *Bell {
	if out == nil {
		out = os.Stderr
	}
	return &Bell{
		out:    out,
		gap:    defaultGap,
		now:    time.Now,
		logger: logging.Component(logging.L(), "alert"),
	}
}

// Notify implements session.Notifier.
func (b *Bell) Notify(chat.Message) {
	b.Ring()
}

// Ring emits one bell unless one was emitted within the gap. It reports
// whether a bell was written.
func (b *Bell) Ring() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !b.last.IsZero() && now.Sub(b.last) < b.gap {
		return false
	}
	if _, err := io.WriteString(b.out, "\a"); err != nil {
		b.logger.Debug().Err(err).Msg("bell write failed")
		return false
	}
	b.last = now
	return true
}

// Func adapts an ordinary function to session.Notifier.
type Func func(chat.Message)

// Notify calls f. A nil Func does nothing.
func (f Func) Notify(msg chat.Message) {
	if f != nil {
		f(msg)
	}
}
