package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/chatstore"
	"chatsync/pkg/loop"
	"chatsync/pkg/models"
)

type call struct {
	conv, query string
	limit       int
}

type fakeSearcher struct {
	mu      sync.Mutex
	calls   []call
	results map[string][]models.Message
	err     error
}

func (f *fakeSearcher) SearchMessages(ctx context.Context, convID, query string, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{convID, query, limit})
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

func fixture(t *testing.T) (*Overlay, *chatstore.Store, *fakeSearcher, *loop.Manual) {
	t.Helper()
	exec := loop.NewManual(time.Unix(0, 0))
	st := chatstore.New(chatstore.WithSelf("user-1"))
	st.LoadConversations([]models.Conversation{{ID: "c1"}, {ID: "c2"}})
	st.LoadLog("c1", []models.Message{
		{ID: "m1", SenderID: "user-2", Content: "Hi there", CreatedAt: 1},
		{ID: "m2", SenderID: "user-1", Content: "nothing", CreatedAt: 2},
		{ID: "m3", SenderID: "user-2", Content: "oh hi, HI", CreatedAt: 3},
	})
	st.SetActive("c1")
	api := &fakeSearcher{results: map[string][]models.Message{}}
	o := New(context.Background(), st, api, exec, Config{Debounce: 300 * time.Millisecond, Limit: 50})
	t.Cleanup(o.Close)
	return o, st, api, exec
}

func ids(v View) []string {
	out := make([]string, 0, len(v.Items))
	for _, it := range v.Items {
		out = append(out, it.Message.ID)
	}
	return out
}

func TestHighlight(t *testing.T) {
	cases := []struct {
		content, query string
		want           []Span
	}{
		{"hi", "hi", []Span{{0, 2}}},
		{"Hi there", "hi", []Span{{0, 2}}},
		{"oh hi, HI", "hi", []Span{{3, 5}, {7, 9}}},
		{"aaaa", "aa", []Span{{0, 2}, {2, 4}}},
		{"nothing", "xyz", nil},
		{"anything", "  ", nil},
		{"Grüße GRÜSSE", "grü", []Span{{0, 4}, {8, 12}}},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Highlight(c.content, c.query), "%q in %q", c.query, c.content)
	}
}

func TestSegments(t *testing.T) {
	content := "oh hi, HI"
	segs := Segments(content, Highlight(content, "hi"))
	assert.Equal(t, []Segment{
		{Text: "oh "},
		{Text: "hi", Match: true},
		{Text: ", "},
		{Text: "HI", Match: true},
	}, segs)
}

func TestBlankQueryShowsFullLog(t *testing.T) {
	o, _, api, exec := fixture(t)
	o.SetQuery("   ")
	exec.Advance(time.Second)
	v := o.View()
	assert.Equal(t, SourceAll, v.Source)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(v))
	assert.Empty(t, api.calls)
}

func TestDebounceIssuesOneSearch(t *testing.T) {
	o, _, api, exec := fixture(t)
	o.SetQuery("h")
	exec.Advance(100 * time.Millisecond)
	o.SetQuery("hi")
	exec.Advance(299 * time.Millisecond)
	assert.Empty(t, api.calls)

	// local filter while pending
	v := o.View()
	assert.True(t, v.Pending)
	assert.Equal(t, SourceLocal, v.Source)
	assert.Equal(t, []string{"m1", "m3"}, ids(v))
	assert.Equal(t, []Span{{0, 2}}, v.Items[0].Spans)

	exec.Advance(time.Millisecond)
	exec.RunSpawned()
	require.Len(t, api.calls, 1)
	assert.Equal(t, call{"c1", "hi", 50}, api.calls[0])
}

func TestRemoteResultsReplaceLocal(t *testing.T) {
	o, _, api, exec := fixture(t)
	api.results["hi"] = []models.Message{{ID: "old", ConversationID: "c1", Content: "hi from last year", CreatedAt: 0}}
	var notified []string
	o.Subscribe(func(q string) { notified = append(notified, q) })

	o.SetQuery("hi")
	exec.Advance(300 * time.Millisecond)
	exec.RunSpawned()

	v := o.View()
	assert.False(t, v.Pending)
	assert.Equal(t, SourceRemote, v.Source)
	assert.Equal(t, []string{"old"}, ids(v))
	assert.Equal(t, []Span{{0, 2}}, v.Items[0].Spans)
	assert.Equal(t, []string{"hi", "hi"}, notified)
}

func TestEmptyOrFailedRemoteFallsBackToLocal(t *testing.T) {
	o, _, api, exec := fixture(t)
	o.SetQuery("hi")
	exec.Advance(300 * time.Millisecond)
	exec.RunSpawned()
	assert.Equal(t, SourceLocal, o.View().Source)

	api.err = errors.New("500")
	o.SetQuery("there")
	exec.Advance(300 * time.Millisecond)
	exec.RunSpawned()
	v := o.View()
	assert.Equal(t, SourceLocal, v.Source)
	assert.Equal(t, []string{"m1"}, ids(v))
}

func TestStaleResultIgnored(t *testing.T) {
	o, _, api, exec := fixture(t)
	api.results["hi"] = []models.Message{{ID: "r-hi", Content: "hi"}}
	api.results["oh"] = []models.Message{{ID: "r-oh", Content: "oh"}}

	o.SetQuery("hi")
	exec.Advance(300 * time.Millisecond)
	require.Equal(t, 1, exec.Spawned())
	o.SetQuery("oh")
	exec.Advance(300 * time.Millisecond)
	require.Equal(t, 2, exec.Spawned())

	// the newer search lands first, then the older one
	exec.RunSpawnedAt(1)
	exec.RunSpawnedAt(0)
	assert.Equal(t, []string{"r-oh"}, ids(o.View()))
}

func TestSwitchingConversationResetsQuery(t *testing.T) {
	o, st, api, exec := fixture(t)
	api.results["hi"] = []models.Message{{ID: "r-hi", Content: "hi"}}
	o.SetQuery("hi")
	exec.Advance(300 * time.Millisecond)
	st.SetActive("c2")
	exec.RunSpawned()

	assert.Equal(t, "", o.Query())
	v := o.View()
	assert.Equal(t, "c2", v.ConversationID)
	assert.Equal(t, SourceAll, v.Source)
	assert.Empty(t, v.Items)
}
