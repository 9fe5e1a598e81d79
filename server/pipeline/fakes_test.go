package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/replybridge/internal/profile"
	"github.com/hrygo/replybridge/plugin/wechat"
	"github.com/hrygo/replybridge/store"
	"github.com/hrygo/replybridge/store/db/sqlite"
)

// fakeClient serves scripted batches and records sends.
type fakeClient struct {
	mu       sync.Mutex
	batches  []*wechat.Batch
	fetchErr error
	panicMsg string
	fetches  int
	replies  []string
	sends    map[string][]string
	sendOK   bool
}

func newFakeClient(batches ...*wechat.Batch) *fakeClient {
	return &fakeClient{batches: batches, sends: map[string][]string{}, sendOK: true}
}

func (f *fakeClient) push(b *wechat.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b)
}

func (f *fakeClient) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeClient) replyTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replies...)
}

func (f *fakeClient) MyInfo(context.Context) (*wechat.Identity, error) {
	return &wechat.Identity{Nickname: "Me", AccountID: "wxid_me"}, nil
}

func (f *fakeClient) FetchNextMessage(context.Context, bool) (*wechat.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.batches) == 0 {
		return &wechat.Batch{}, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeClient) OpenConversation(context.Context, string) (bool, error) { return true, nil }

func (f *fakeClient) LoadMoreHistory(context.Context) (*wechat.LoadResult, error) {
	return &wechat.LoadResult{}, nil
}

func (f *fakeClient) FetchAllMessages(context.Context) ([]*wechat.Message, error) { return nil, nil }

func (f *fakeClient) SendReply(_ context.Context, _ *wechat.Message, text string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return f.sendOK, nil
}

func (f *fakeClient) Send(_ context.Context, name, text string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends[name] = append(f.sends[name], text)
	return f.sendOK, nil
}

func (f *fakeClient) Close() error { return nil }

// fakeClock records requested sleeps and fires after a millisecond.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return time.After(time.Millisecond)
}

func (c *fakeClock) sleepCount(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

func textMsg(sender, content, at string) *wechat.Message {
	return &wechat.Message{Sender: sender, Content: content, Attr: "friend", Type: "text", Time: at}
}

func selfMsg(content, at string) *wechat.Message {
	return &wechat.Message{Sender: "self", Content: content, Attr: "self", Type: "text", Time: at}
}

func batchOf(chat string, msgs ...*wechat.Message) *wechat.Batch {
	return &wechat.Batch{ChatName: chat, ChatKind: "friend", Messages: msgs}
}

func connectedState(client wechat.Client, names ...string) *State {
	s := NewState()
	s.SetConnected(client, &wechat.Identity{Nickname: "Me", AccountID: "wxid_me"}, "session-1")
	for _, n := range names {
		s.AddContact(n, false)
	}
	return s
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{Mode: "dev", Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "pipeline.db")}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	s, err := store.New(driver, p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func drain(q *Queue) []*Item {
	var out []*Item
	for q.Len() > 0 {
		item, err := q.Pop(context.Background(), time.Millisecond)
		if err != nil {
			break
		}
		out = append(out, item)
	}
	return out
}
