// Package notify carries short, user-facing status messages (startup banner,
// transfer milestones) out of the server. Delivery is best effort: a Notifier
// never reports failure back to the caller.
package notify

import (
	"log/slog"
	"sync"
)

// Notifier receives fire-and-forget status messages.
type Notifier interface {
	Notify(message string)
}

// Func adapts a plain function to a Notifier.
type Func func(message string)

func (f Func) Notify(message string) { f(message) }

// Discard drops every message.
var Discard Notifier = Func(func(string) {})

// LogNotifier writes every message to a slog logger at Info level.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default().With("module", "notify")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(message string) {
	n.logger.Info(message)
}

// Recorder keeps every message it receives. It is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *Recorder) Notify(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

// Messages returns a copy of the recorded messages in arrival order.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}
