package reconcile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/chatstore"
	"chatsync/pkg/loop"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/notify"
	"chatsync/pkg/optimistic"
)

type stubAPI struct{}

func (stubAPI) SendMessage(ctx context.Context, convID string, req models.SendRequest) (models.Message, error) {
	return models.Message{ID: "rest-" + req.Content, ConversationID: convID, SenderID: "user-1", Content: req.Content, Status: models.StatusSent, CreatedAt: 5}, nil
}

func (stubAPI) EditMessage(ctx context.Context, msgID, content string) (models.Message, error) {
	return models.Message{ID: msgID, Content: content}, nil
}

func (stubAPI) DeleteMessage(ctx context.Context, msgID string) error { return nil }

type fixture struct {
	exec     *loop.Manual
	store    *chatstore.Store
	tracker  *optimistic.Tracker
	presence *Presence
	rec      *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	exec := loop.NewManual(time.UnixMilli(1_000))
	st := chatstore.New(chatstore.WithSelf("user-1"))
	st.LoadConversations([]models.Conversation{{ID: "c1"}, {ID: "c2"}})
	n := 0
	tr := optimistic.New(context.Background(), st, stubAPI{}, exec, optimistic.Config{
		Self: models.Participant{UserID: "user-1", Name: "Me"},
		NewID: func() string {
			n++
			return "local-" + string(rune('0'+n))
		},
	})
	t.Cleanup(tr.Close)
	pr := NewPresence(5 * time.Second)
	rec := New(st, tr, pr, metrics.New(prometheus.NewRegistry()), exec.Now)
	return &fixture{exec: exec, store: st, tracker: tr, presence: pr, rec: rec}
}

func env(t *testing.T, typ models.EventType, payload any) models.Envelope {
	t.Helper()
	e, err := models.NewEnvelope(typ, payload)
	require.NoError(t, err)
	return e
}

func newMessage(id, conv, sender, content string, at int64) models.Message {
	return models.Message{ID: id, ConversationID: conv, SenderID: sender, SenderName: sender, Content: content, Status: models.StatusSent, CreatedAt: at}
}

func TestForeignMessageAppended(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.rec.Apply(env(t, models.EventNewMessage, newMessage("m1", "c1", "user-2", "hi", 100))))
	require.NoError(t, f.rec.Apply(env(t, models.EventNewMessage, newMessage("m1", "c1", "user-2", "hi", 100))))

	log := f.store.GetLog("c1")
	require.Len(t, log, 1)
	c, _ := f.store.Conversation("c1")
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, "m1", c.LastMessage.ID)
}

func TestSelfEchoResolvesOptimisticSend(t *testing.T) {
	f := newFixture(t)
	pid, err := f.tracker.BeginSend("c1", "hello", "")
	require.NoError(t, err)
	require.Len(t, f.store.GetLog("c1"), 1)

	echo := newMessage("m42", "c1", "user-1", "hello", 1_001)
	echo.Status = models.StatusDelivered
	require.NoError(t, f.rec.Apply(env(t, models.EventNewMessage, echo)))

	log := f.store.GetLog("c1")
	require.Len(t, log, 1)
	assert.Equal(t, "m42", log[0].ID)
	assert.Equal(t, models.StatusDelivered, log[0].Status)
	assert.False(t, f.tracker.IsProvisional(pid))

	// a duplicate delivery of the echo is merged, not re-matched
	require.NoError(t, f.rec.Apply(env(t, models.EventNewMessage, echo)))
	assert.Len(t, f.store.GetLog("c1"), 1)
}

func TestTwoSelfEchoesSecondIsDistinct(t *testing.T) {
	f := newFixture(t)
	f.tracker.BeginSend("c1", "one", "")

	require.NoError(t, f.rec.Apply(env(t, models.EventNewMessage, newMessage("m2", "c1", "user-1", "two", 1_002))))
	require.NoError(t, f.rec.Apply(env(t, models.EventNewMessage, newMessage("m1", "c1", "user-1", "one", 1_001))))

	var got []string
	for _, m := range f.store.GetLog("c1") {
		got = append(got, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2"}, got)
	assert.Empty(t, f.tracker.Pending("c1"))
}

func TestSelfMessageWithoutPendingSend(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.rec.Apply(env(t, models.EventNewMessage, newMessage("m1", "c2", "user-1", "from phone", 10))))
	assert.Len(t, f.store.GetLog("c2"), 1)
	c, _ := f.store.Conversation("c2")
	assert.Equal(t, 0, c.UnreadCount)
}

func TestStatusEventsNeverRegress(t *testing.T) {
	f := newFixture(t)
	f.rec.Apply(env(t, models.EventNewMessage, newMessage("m1", "c1", "user-2", "hi", 100)))

	f.rec.Apply(env(t, models.EventMessageStatus, models.MessageStatusEvent{MessageID: "m1", Status: models.StatusRead}))
	f.rec.Apply(env(t, models.EventMessageStatus, models.MessageStatusEvent{MessageID: "m1", Status: models.StatusDelivered}))
	require.NoError(t, f.rec.Apply(env(t, models.EventMessageStatus, models.MessageStatusEvent{MessageID: "nope", Status: models.StatusRead})))

	m, _ := f.store.Message("c1", "m1")
	assert.Equal(t, models.StatusRead, m.Status)
}

func TestEditAndDeleteOfUnknownIDAreNoops(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.rec.Apply(env(t, models.EventMessageEdited, models.MessageEditedEvent{MessageID: "ghost", ChatID: "c1", Content: "x", EditedAt: 5})))
	assert.NoError(t, f.rec.Apply(env(t, models.EventMessageDeleted, models.MessageDeletedEvent{MessageID: "ghost", ChatID: "c1"})))
	assert.Empty(t, f.store.GetLog("c1"))

	// the delayed create of a message already deleted stays deleted
	assert.NoError(t, f.rec.Apply(env(t, models.EventNewMessage, newMessage("ghost", "c1", "user-2", "boo", 3))))
	assert.Empty(t, f.store.GetLog("c1"))
}

func TestEditThenDelete(t *testing.T) {
	f := newFixture(t)
	f.rec.Apply(env(t, models.EventNewMessage, newMessage("m0", "c1", "user-2", "first", 50)))
	f.rec.Apply(env(t, models.EventNewMessage, newMessage("m1", "c1", "user-2", "second", 100)))
	f.rec.Apply(env(t, models.EventMessageEdited, models.MessageEditedEvent{MessageID: "m1", Content: "second!", EditedAt: 200}))

	m, _ := f.store.Message("c1", "m1")
	assert.Equal(t, "second!", m.Content)

	f.rec.Apply(env(t, models.EventMessageDeleted, models.MessageDeletedEvent{MessageID: "m1", ChatID: "c1"}))
	c, _ := f.store.Conversation("c1")
	assert.Equal(t, "m0", c.LastMessage.ID)
}

func TestMalformedEventsDropped(t *testing.T) {
	f := newFixture(t)
	f.rec.Apply(env(t, models.EventNewMessage, newMessage("m1", "c1", "user-2", "hi", 100)))
	before := f.store.GetLog("c1")

	cases := []models.Envelope{
		{Type: models.EventNewMessage, Data: json.RawMessage(`{"message_id":`)},
		{Type: models.EventNewMessage},
		env(t, models.EventNewMessage, models.Message{ConversationID: "c1", SenderID: "u", CreatedAt: 1}),
		env(t, models.EventMessageStatus, models.MessageStatusEvent{MessageID: "m1", Status: "exploded"}),
		env(t, models.EventMessageStatus, map[string]any{"message_id": 7}),
		env(t, models.EventMessageDeleted, models.MessageDeletedEvent{MessageID: "m1"}),
		env(t, models.EventTypingStart, models.TypingEvent{ChatID: "c1"}),
		env(t, models.EventUserStatus, models.UserStatusEvent{UserID: "user-2", Status: "sleeping"}),
		{Type: "reaction_added", Data: json.RawMessage(`{}`)},
	}
	for _, e := range cases {
		assert.Error(t, f.rec.Apply(e), string(e.Type))
	}
	assert.Equal(t, before, f.store.GetLog("c1"))
}

func TestTypingIndicators(t *testing.T) {
	f := newFixture(t)
	var changes []PresenceChange
	f.presence.Subscribe(func(c PresenceChange) { changes = append(changes, c) })

	f.rec.Apply(env(t, models.EventTypingStart, models.TypingEvent{ChatID: "c1", UserID: "user-2", UserName: "Ann"}))
	f.rec.Apply(env(t, models.EventTypingStart, models.TypingEvent{ChatID: "c1", UserID: "user-1"}))
	f.rec.Apply(env(t, models.EventTypingStart, models.TypingEvent{ChatID: "c1", UserID: "user-3"}))
	assert.Equal(t, []string{"user-2", "user-3"}, f.presence.Typing("c1"))
	assert.Equal(t, []string{"Ann", "user-3"}, f.presence.TypingNames("c1"))

	// a message from the typist clears their flag
	f.rec.Apply(env(t, models.EventNewMessage, newMessage("m1", "c1", "user-2", "hi", 100)))
	assert.Equal(t, []string{"user-3"}, f.presence.Typing("c1"))

	f.rec.Apply(env(t, models.EventTypingStop, models.TypingEvent{ChatID: "c1", UserID: "user-9"}))
	assert.Len(t, changes, 3)

	f.exec.Advance(5 * time.Second)
	assert.Equal(t, 1, f.presence.Expire(f.exec.Now()))
	assert.Empty(t, f.presence.Typing("c1"))
}

func TestUserStatusUpdatesParticipants(t *testing.T) {
	f := newFixture(t)
	f.store.UpsertConversation(models.Conversation{ID: "c3", Participants: []models.Participant{{UserID: "user-2", Status: models.UserOffline}}})

	require.NoError(t, f.rec.Apply(env(t, models.EventUserStatus, models.UserStatusEvent{UserID: "user-2", Status: models.UserOnline, LastSeen: 99})))
	p, ok := f.presence.Status("user-2")
	require.True(t, ok)
	assert.Equal(t, models.UserOnline, p.Status)
	c, _ := f.store.Conversation("c3")
	assert.Equal(t, models.UserOnline, c.Participants[0].Status)
	assert.Equal(t, int64(99), c.Participants[0].LastSeen)
}

func TestUnknownConversationReported(t *testing.T) {
	f := newFixture(t)
	var fetched []string
	f.rec.OnUnknownConversation(func(id string) { fetched = append(fetched, id) })
	f.rec.Apply(env(t, models.EventNewMessage, newMessage("m1", "c9", "user-4", "hey", 1)))
	f.rec.Apply(env(t, models.EventNewMessage, newMessage("m2", "c9", "user-4", "again", 2)))
	assert.Equal(t, []string{"c9"}, fetched)
	_, ok := f.store.Conversation("c9")
	assert.True(t, ok)
}

type fakeSource struct {
	hubs map[models.EventType]*notify.Hub[models.Envelope]
}

func (s *fakeSource) Subscribe(t models.EventType, fn func(models.Envelope)) *notify.Subscription {
	if s.hubs == nil {
		s.hubs = map[models.EventType]*notify.Hub[models.Envelope]{}
	}
	h := s.hubs[t]
	if h == nil {
		h = &notify.Hub[models.Envelope]{}
		s.hubs[t] = h
	}
	return h.Subscribe(fn)
}

func (s *fakeSource) emit(e models.Envelope) {
	if h := s.hubs[e.Type]; h != nil {
		h.Publish(e)
	}
}

func TestAttachPostsToLoop(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{}
	g := f.rec.Attach(src, f.exec.Post)

	src.emit(env(t, models.EventNewMessage, newMessage("m1", "c1", "user-2", "hi", 1)))
	assert.Empty(t, f.store.GetLog("c1"))
	f.exec.Drain()
	assert.Len(t, f.store.GetLog("c1"), 1)

	g.Release()
	src.emit(env(t, models.EventNewMessage, newMessage("m2", "c1", "user-2", "hi", 2)))
	f.exec.Drain()
	assert.Len(t, f.store.GetLog("c1"), 1)
}
