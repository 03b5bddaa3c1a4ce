package mockserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"chatsync/pkg/logger"
	"chatsync/pkg/mockserver/storage"
	"chatsync/pkg/models"
	"chatsync/pkg/search"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// memberChat loads the chat from the route and checks the caller is in it.
func (s *Server) memberChat(w http.ResponseWriter, r *http.Request) (storage.Chat, bool) {
	id := mux.Vars(r)["id"]
	chat, err := s.db.Chat(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return chat, false
	}
	if !chat.HasMember(currentUser(r).UserID) {
		writeError(w, http.StatusForbidden, "not a member of this chat")
		return chat, false
	}
	return chat, true
}

// summary builds the conversation as userID sees it.
func (s *Server) summary(chat storage.Chat, userID string) (models.Conversation, error) {
	conv := models.Conversation{
		ID:          chat.ID,
		Kind:        chat.Kind,
		Name:        chat.Name,
		AvatarURL:   chat.AvatarURL,
		Description: chat.Description,
		CreatedAt:   chat.CreatedAt,
		UpdatedAt:   chat.UpdatedAt,
	}
	for _, id := range chat.Members {
		u, err := s.db.User(id)
		if err != nil {
			u = models.Participant{UserID: id}
		}
		conv.Participants = append(conv.Participants, u)
	}
	last, err := s.db.LastMessage(chat.ID)
	if err != nil {
		return conv, err
	}
	conv.LastMessage = last
	if conv.UnreadCount, err = s.db.Unread(chat.ID, userID); err != nil {
		return conv, err
	}
	return conv, nil
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, currentUser(r))
}

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	chats, err := s.db.ChatsFor(user.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	convs := make([]models.Conversation, 0, len(chats))
	for _, c := range chats {
		conv, err := s.summary(c, user.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		convs = append(convs, conv)
	}
	writeData(w, http.StatusOK, paginate(convs, queryInt(r, "page", 1), queryInt(r, "limit", 20)))
}

func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.memberChat(w, r)
	if !ok {
		return
	}
	conv, err := s.summary(chat, currentUser(r).UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, conv)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.memberChat(w, r)
	if !ok {
		return
	}
	msgs, err := s.db.Messages(chat.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// newest first unless asked otherwise
	if r.URL.Query().Get("sort") != "asc" {
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt > msgs[j].CreatedAt })
	}
	writeData(w, http.StatusOK, paginate(msgs, queryInt(r, "page", 1), queryInt(r, "limit", 50)))
}

func (s *Server) searchMessages(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.memberChat(w, r)
	if !ok {
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	msgs, err := s.db.Messages(chat.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	hits := search.Filter(msgs, query)
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].CreatedAt > hits[j].CreatedAt })
	writeData(w, http.StatusOK, paginate(hits, queryInt(r, "page", 1), queryInt(r, "limit", 50)))
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.memberChat(w, r)
	if !ok {
		return
	}
	var req models.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Type == "" {
		req.Type = models.TypeText
	}
	user := currentUser(r)
	msg := models.Message{
		ID:             s.newID(),
		ConversationID: chat.ID,
		SenderID:       user.UserID,
		SenderName:     user.Name,
		SenderAvatar:   user.AvatarURL,
		Content:        req.Content,
		Type:           req.Type,
		Status:         models.StatusSent,
		ReplyTo:        req.ReplyTo,
		CreatedAt:      nowMillis(),
	}
	if err := s.post(chat, msg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusCreated, msg)
}

// post stores msg, pushes it to every member (the sender included) and
// schedules the delivered status.
func (s *Server) post(chat storage.Chat, msg models.Message) error {
	if err := s.db.AppendMessage(msg); err != nil {
		return err
	}
	logger.Info("message_created", "chat_id", chat.ID, "message_id", msg.ID, "sender_id", msg.SenderID)
	s.push(chat.Members, models.EventNewMessage, msg)
	s.after(s.opts.StatusDelay, func() { s.deliver(chat, msg.ID, msg.SenderID) })
	return nil
}

func (s *Server) deliver(chat storage.Chat, msgID, senderID string) {
	online := false
	for _, m := range chat.Members {
		if m != senderID && s.hub.Online(m) {
			online = true
			break
		}
	}
	if !online {
		return
	}
	s.advanceStatus(chat, msgID, models.StatusDelivered)
}

func (s *Server) advanceStatus(chat storage.Chat, msgID string, status models.MessageStatus) {
	changed := false
	_, err := s.db.UpdateMessage(msgID, func(m *models.Message) error {
		if status.After(m.Status) {
			m.Status = status
			changed = true
		}
		return nil
	})
	if err != nil || !changed {
		return
	}
	s.push(chat.Members, models.EventMessageStatus, models.MessageStatusEvent{MessageID: msgID, ChatID: chat.ID, Status: status})
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.memberChat(w, r)
	if !ok {
		return
	}
	var req models.MarkReadRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	user := currentUser(r)
	upTo := nowMillis()
	if req.MessageID != "" {
		m, err := s.db.Message(req.MessageID)
		if err != nil || m.ConversationID != chat.ID {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		upTo = m.CreatedAt
	}
	if err := s.db.SetReadMarker(chat.ID, user.UserID, upTo); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	msgs, err := s.db.Messages(chat.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, m := range msgs {
		if m.SenderID != user.UserID && m.CreatedAt <= upTo && models.StatusRead.After(m.Status) {
			s.advanceStatus(chat, m.ID, models.StatusRead)
		}
	}
	writeData(w, http.StatusOK, nil)
}

// ownMessage loads the routed message and checks the caller sent it.
func (s *Server) ownMessage(w http.ResponseWriter, r *http.Request) (models.Message, storage.Chat, bool) {
	id := mux.Vars(r)["id"]
	m, err := s.db.Message(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "message not found")
		return m, storage.Chat{}, false
	}
	if m.SenderID != currentUser(r).UserID {
		writeError(w, http.StatusForbidden, "only the sender may change a message")
		return m, storage.Chat{}, false
	}
	chat, err := s.db.Chat(m.ConversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return m, chat, false
	}
	return m, chat, true
}

func (s *Server) editMessage(w http.ResponseWriter, r *http.Request) {
	m, chat, ok := s.ownMessage(w, r)
	if !ok {
		return
	}
	var req models.EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	editedAt := nowMillis()
	updated, err := s.db.UpdateMessage(m.ID, func(m *models.Message) error {
		m.Content = req.Content
		m.EditedAt = editedAt
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.push(chat.Members, models.EventMessageEdited, models.MessageEditedEvent{
		MessageID: m.ID, ChatID: chat.ID, Content: updated.Content, EditedAt: editedAt,
	})
	writeData(w, http.StatusOK, updated)
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	m, chat, ok := s.ownMessage(w, r)
	if !ok {
		return
	}
	if _, err := s.db.DeleteMessage(m.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.push(chat.Members, models.EventMessageDeleted, models.MessageDeletedEvent{MessageID: m.ID, ChatID: chat.ID})
	writeData(w, http.StatusOK, nil)
}

// handleFrame forwards typing frames to the other members of the chat.
func (s *Server) handleFrame(userID string, env models.Envelope) {
	switch env.Type {
	case models.EventTypingStart, models.EventTypingStop:
	default:
		logger.Debug("ws_frame_ignored", "user_id", userID, "type", env.Type)
		return
	}
	var ev models.TypingEvent
	if err := env.Decode(&ev); err != nil || ev.ChatID == "" {
		return
	}
	chat, err := s.db.Chat(ev.ChatID)
	if err != nil || !chat.HasMember(userID) {
		return
	}
	user, _ := s.db.User(userID)
	ev.UserID = userID
	ev.UserName = user.Name
	s.push(others(chat.Members, userID), env.Type, ev)
}

// handlePresence records a user's first connect or last disconnect and
// tells everyone sharing a chat with them.
func (s *Server) handlePresence(userID string, online bool) {
	status := models.UserOffline
	var lastSeen int64
	if online {
		status = models.UserOnline
	} else {
		lastSeen = nowMillis()
	}
	u, err := s.db.SetUserStatus(userID, status, lastSeen)
	if err != nil {
		return
	}
	s.push(s.peers(userID), models.EventUserStatus, models.UserStatusEvent{UserID: userID, Status: status, LastSeen: u.LastSeen})
}

func (s *Server) peers(userID string) []string {
	chats, err := s.db.ChatsFor(userID)
	if err != nil {
		return nil
	}
	seen := map[string]bool{userID: true}
	var out []string
	for _, c := range chats {
		for _, m := range c.Members {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

func others(members []string, userID string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != userID {
			out = append(out, m)
		}
	}
	return out
}
