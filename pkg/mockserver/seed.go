package mockserver

import (
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/mockserver/storage"
	"chatsync/pkg/models"
)

func avatar(seed string) string {
	return "https://api.dicebear.com/7.x/avataaars/svg?seed=" + seed
}

// Seed fills an empty database with the fixture users, chats and a short
// history. A database that already holds users is left alone.
func Seed(db *storage.DB, now time.Time) error {
	empty, err := db.Empty()
	if err != nil || !empty {
		return err
	}
	users := []models.Participant{
		{UserID: "user-1", Name: "Current User", Email: "me@example.com", AvatarURL: avatar("current"), Status: models.UserOffline},
		{UserID: "user-2", Name: "Alice Johnson", Email: "alice@example.com", AvatarURL: avatar("alice"), Status: models.UserOnline},
		{UserID: "user-3", Name: "Bob Smith", Email: "bob@example.com", AvatarURL: avatar("bob"), Status: models.UserAway},
		{UserID: "user-4", Name: "Carol White", Email: "carol@example.com", AvatarURL: avatar("carol"), Status: models.UserOnline},
		{UserID: "user-5", Name: "David Brown", Email: "david@example.com", AvatarURL: avatar("david"), Status: models.UserOffline},
	}
	for _, u := range users {
		if err := db.PutUser(u); err != nil {
			return err
		}
	}
	base := now.Add(-2 * time.Hour).UnixMilli()
	chats := []storage.Chat{
		{ID: "chat-1", Kind: models.KindPrivate, Name: "Alice Johnson", AvatarURL: avatar("alice"), Members: []string{"user-1", "user-2"}},
		{ID: "chat-2", Kind: models.KindPrivate, Name: "Bob Smith", AvatarURL: avatar("bob"), Members: []string{"user-1", "user-3"}},
		{ID: "chat-3", Kind: models.KindGroup, Name: "Project Team", Description: "Daily project sync", Members: []string{"user-1", "user-2", "user-4"}},
		{ID: "chat-4", Kind: models.KindGroup, Name: "Design Review", Description: "Design iterations", Members: []string{"user-1", "user-5"}},
	}
	for _, c := range chats {
		c.CreatedAt, c.UpdatedAt = base, base
		if err := db.PutChat(c); err != nil {
			return err
		}
	}
	history := []struct {
		id, chat, sender, content string
		status                    models.MessageStatus
		minute                    int64
	}{
		{"seed-1", "chat-1", "user-2", "Hi there! Are we still on for tomorrow?", models.StatusRead, 1},
		{"seed-2", "chat-1", "user-1", "Yes, see you at ten.", models.StatusRead, 3},
		{"seed-3", "chat-1", "user-2", "Great, I will bring the notes.", models.StatusDelivered, 5},
		{"seed-4", "chat-2", "user-3", "Can you review my pull request?", models.StatusDelivered, 10},
		{"seed-5", "chat-3", "user-4", "Standup moved to 9:30.", models.StatusRead, 20},
		{"seed-6", "chat-3", "user-2", "Thanks for the heads up!", models.StatusDelivered, 22},
		{"seed-7", "chat-4", "user-5", "Uploaded the new mockups.", models.StatusSent, 30},
	}
	byID := make(map[string]models.Participant, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}
	for _, h := range history {
		u := byID[h.sender]
		m := models.Message{
			ID:             h.id,
			ConversationID: h.chat,
			SenderID:       u.UserID,
			SenderName:     u.Name,
			SenderAvatar:   u.AvatarURL,
			Content:        h.content,
			Type:           models.TypeText,
			Status:         h.status,
			CreatedAt:      base + h.minute*int64(time.Minute/time.Millisecond),
		}
		if err := db.AppendMessage(m); err != nil {
			return err
		}
	}
	// user-1 has read chat-1 up to its own reply
	if err := db.SetReadMarker("chat-1", "user-1", base+3*int64(time.Minute/time.Millisecond)); err != nil {
		return err
	}
	logger.Info("mock_seeded", "users", len(users), "chats", len(chats), "messages", len(history))
	return nil
}
