package transport

import (
	"time"

	"golang.org/x/time/rate"

	"chatsync/pkg/logger"
	"chatsync/pkg/loop"
)

type TypingSender interface {
	SendTyping(convID string, typing bool) error
}

// TypingNotifier turns keystrokes into typing frames: typing_start at most
// at the configured rate per conversation, and typing_stop once the user has
// been idle. It must be driven from a single goroutine.
type TypingNotifier struct {
	sender TypingSender
	exec   loop.Executor
	idle   time.Duration
	limit  rate.Limit
	convs  map[string]*typingState
}

type typingState struct {
	limiter *rate.Limiter
	active  bool
	stop    func() bool
}

func NewTypingNotifier(sender TypingSender, exec loop.Executor, idle time.Duration, perSecond float64) *TypingNotifier {
	if idle <= 0 {
		idle = 3 * time.Second
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	return &TypingNotifier{
		sender: sender,
		exec:   exec,
		idle:   idle,
		limit:  rate.Limit(perSecond),
		convs:  make(map[string]*typingState),
	}
}

// Keystroke records input activity in convID.
func (n *TypingNotifier) Keystroke(convID string) {
	st := n.convs[convID]
	if st == nil {
		st = &typingState{limiter: rate.NewLimiter(n.limit, 1)}
		n.convs[convID] = st
	}
	if st.stop != nil {
		st.stop()
	}
	st.stop = n.exec.After(n.idle, func() { n.Stop(convID) })

	if st.limiter.AllowN(n.exec.Now(), 1) || !st.active {
		st.active = true
		if err := n.sender.SendTyping(convID, true); err != nil {
			logger.Debug("typing_send_failed", "chat_id", convID, "error", err)
		}
	}
}

// Stop sends typing_stop if a typing_start is outstanding for convID.
func (n *TypingNotifier) Stop(convID string) {
	st := n.convs[convID]
	if st == nil || !st.active {
		return
	}
	if st.stop != nil {
		st.stop()
		st.stop = nil
	}
	st.active = false
	if err := n.sender.SendTyping(convID, false); err != nil {
		logger.Debug("typing_send_failed", "chat_id", convID, "error", err)
	}
}

// StopAll ends every outstanding typing indicator.
func (n *TypingNotifier) StopAll() {
	for id := range n.convs {
		n.Stop(id)
	}
}
