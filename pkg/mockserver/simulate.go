package mockserver

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

type scripted struct {
	chatID, senderID, content string
}

var scriptedLines = []scripted{
	{"chat-1", "user-2", "Hey! How are you doing?"},
	{"chat-1", "user-2", "Did you see the latest updates?"},
	{"chat-2", "user-3", "I just reviewed everything"},
	{"chat-3", "user-2", "Team, great progress today!"},
	{"chat-3", "user-4", "Agreed! Let's keep it up."},
	{"chat-4", "user-5", "The design iterations are coming along nicely"},
}

var simulatedUsers = []string{"user-2", "user-3", "user-4", "user-5"}

func (s *Server) simulateLoop(ctx context.Context) {
	expr := s.opts.SimulateCron
	logger.Info("simulation_enabled", "cron", expr)
	for {
		next, err := gronx.NextTickAfter(expr, time.Now(), false)
		if err != nil {
			logger.Error("simulation_nexttick_failed", "cron", expr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-time.After(wait):
			s.SimulateOnce()
		case <-ctx.Done():
			return
		}
	}
}

// SimulateOnce posts one scripted message from another user and sometimes
// flips a user's presence.
func (s *Server) SimulateOnce() {
	line := scriptedLines[rand.IntN(len(scriptedLines))]
	chat, err := s.db.Chat(line.chatID)
	if err != nil {
		logger.Debug("simulation_chat_missing", "chat_id", line.chatID)
		return
	}
	sender, err := s.db.User(line.senderID)
	if err != nil {
		return
	}
	msg := models.Message{
		ID:             s.newID(),
		ConversationID: chat.ID,
		SenderID:       sender.UserID,
		SenderName:     sender.Name,
		SenderAvatar:   sender.AvatarURL,
		Content:        line.content,
		Type:           models.TypeText,
		Status:         models.StatusSent,
		CreatedAt:      nowMillis(),
	}
	if err := s.post(chat, msg); err != nil {
		logger.Warn("simulation_post_failed", "error", err)
		return
	}
	if rand.Float64() > 0.7 {
		uid := simulatedUsers[rand.IntN(len(simulatedUsers))]
		if s.hub.Online(uid) {
			return
		}
		s.handlePresence(uid, rand.Float64() > 0.3)
	}
}
