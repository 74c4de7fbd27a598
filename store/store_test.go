package store

import (
	"sync"
	"testing"
	"time"

	"ckd-chat-gateway/model"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func fixedClock(ts ...time.Time) func() time.Time {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(ts) {
			return ts[len(ts)-1]
		}
		t := ts[i]
		i++
		return t
	}
}

func newSession(id string) model.Session {
	return model.NewSession(id, t0)
}

func TestAppendMessageAssignsStableIndices(t *testing.T) {
	s := New(WithClock(fixedClock(t0.Add(time.Minute), t0.Add(2*time.Minute))))
	s.ReplaceAll([]model.Session{newSession("s1")})

	i0, ok := s.AppendMessage("s1", model.Message{Role: model.RoleUser, Content: model.TextContent("hi")})
	require.True(t, ok)
	i1, ok := s.AppendMessage("s1", model.Message{Role: model.RoleAssistant, Content: model.OutlineContent("...", "")})
	require.True(t, ok)

	assert.Equal(t, 0, i0)
	assert.Equal(t, 1, i1)

	sess, ok := s.Session("s1")
	require.True(t, ok)
	assert.Len(t, sess.History, 2)
	assert.Equal(t, t0.Add(2*time.Minute), sess.UpdatedAt.Time)
	assert.Equal(t, t0, sess.CreatedAt.Time)
}

func TestAppendTurnAddsExactlyTwo(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Session{newSession("s1")})

	u, p, ok := s.AppendTurn("s1",
		model.Message{Role: model.RoleUser, Content: model.TextContent("q")},
		model.Message{Role: model.RoleAssistant, Content: model.OutlineContent("思考中...", "")},
	)
	require.True(t, ok)
	assert.Equal(t, 0, u)
	assert.Equal(t, 1, p)

	_, _, ok = s.AppendTurn("missing", model.Message{}, model.Message{})
	assert.False(t, ok)
}

func TestReplaceMessageContentIgnoresMissingTargets(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Session{newSession("s1"), newSession("s2")})
	_, p, _ := s.AppendTurn("s2",
		model.Message{Role: model.RoleUser, Content: model.TextContent("q")},
		model.Message{Role: model.RoleAssistant, Content: model.OutlineContent("思考中...", "")},
	)

	before := s.Snapshot()

	assert.False(t, s.ReplaceMessageContent("gone", 1, model.OutlineContent("x", "y")))
	assert.False(t, s.ReplaceMessageContent("s1", 0, model.OutlineContent("x", "y")))
	assert.False(t, s.ReplaceMessageContent("s2", 5, model.OutlineContent("x", "y")))
	assert.False(t, s.ReplaceMessageContent("s2", -1, model.OutlineContent("x", "y")))

	if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
		t.Fatalf("ignored writes changed state (-before +after):\n%s", diff)
	}

	require.True(t, s.ReplaceMessageContent("s2", p, model.OutlineContent("a", "b")))
	sess, _ := s.Session("s2")
	assert.Equal(t, model.OutlineContent("a", "b"), sess.History[p].Content)
	assert.Equal(t, model.TextContent("q"), sess.History[0].Content)
}

func TestWriteAfterDeleteDoesNotTouchOtherSessions(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Session{newSession("s1"), newSession("s2")})
	_, p, _ := s.AppendTurn("s1",
		model.Message{Role: model.RoleUser, Content: model.TextContent("q")},
		model.Message{Role: model.RoleAssistant, Content: model.OutlineContent("思考中...", "")},
	)
	other, _ := s.Session("s2")

	require.True(t, s.RemoveSession("s1"))
	assert.False(t, s.ReplaceMessageContent("s1", p, model.OutlineContent("late", "")))

	after, ok := s.Session("s2")
	require.True(t, ok)
	assert.Equal(t, other, after)
	assert.Len(t, s.Sessions(), 1)
}

func TestRemoveSessionSelectionFallback(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Session{newSession("a"), newSession("b"), newSession("c")})

	require.True(t, s.Select("c"))
	require.True(t, s.RemoveSession("c"))
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "b", cur)

	// 删除非选中会话不影响选择
	require.True(t, s.RemoveSession("a"))
	cur, _ = s.Current()
	assert.Equal(t, "b", cur)

	require.True(t, s.RemoveSession("b"))
	_, ok = s.Current()
	assert.False(t, ok)

	assert.False(t, s.RemoveSession("b"))
}

func TestPatchSessionMergesName(t *testing.T) {
	s := New()
	s.UpsertSession(newSession("s1"))

	assert.True(t, s.PatchSession("s1", model.SessionPatch{Name: model.StringPtr("腎臟病飲食")}))
	assert.True(t, s.PatchSession("s1", model.SessionPatch{}))
	assert.False(t, s.PatchSession("nope", model.SessionPatch{Name: model.StringPtr("x")}))

	sess, _ := s.Session("s1")
	require.NotNil(t, sess.Name)
	assert.Equal(t, "腎臟病飲食", *sess.Name)
}

func TestUpsertReplacesExisting(t *testing.T) {
	s := New()
	s.UpsertSession(newSession("s1"))
	updated := newSession("s1")
	updated.Name = model.StringPtr("renamed")
	s.UpsertSession(updated)

	all := s.Sessions()
	require.Len(t, all, 1)
	assert.Equal(t, "renamed", all[0].Title())
}

func TestReplaceAllDropsStaleSelection(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Session{newSession("a")})
	s.Select("a")

	s.ReplaceAll([]model.Session{newSession("b")})
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestSnapshotIsIsolatedFromLaterWrites(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Session{newSession("s1")})
	_, p, _ := s.AppendTurn("s1",
		model.Message{Role: model.RoleUser, Content: model.TextContent("q")},
		model.Message{Role: model.RoleAssistant, Content: model.OutlineContent("思考中...", "")},
	)

	snap := s.Snapshot()
	s.ReplaceMessageContent("s1", p, model.OutlineContent("done", "d"))

	assert.Equal(t, "思考中...", snap.Sessions[0].History[p].Content.Outline)
}

func TestInFlightDrivesLoading(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Session{newSession("a"), newSession("b")})

	s.SetInFlight("b", true)
	snap := s.Snapshot()
	assert.True(t, snap.Loading)
	assert.Equal(t, []string{"b"}, snap.InFlight)

	s.SetInFlight("b", false)
	assert.False(t, s.Snapshot().Loading)
	assert.False(t, s.InFlight("b"))
}

func TestSubscribeReceivesChanges(t *testing.T) {
	s := New()
	_, ch, cancel := s.Subscribe()
	defer cancel()

	s.UpsertSession(newSession("s1"))
	s.Select("s1")

	assert.Equal(t, Change{Kind: ChangeUpsertSession, SessionID: "s1"}, <-ch)
	assert.Equal(t, Change{Kind: ChangeSelection, SessionID: "s1"}, <-ch)
}

func TestSlowSubscriberDoesNotBlockWriters(t *testing.T) {
	s := New(WithSubscriberBuffer(1))
	_, ch, cancel := s.Subscribe()
	defer cancel()

	s.UpsertSession(newSession("s1"))
	for i := 0; i < 10; i++ {
		s.AppendMessage("s1", model.Message{Role: model.RoleUser, Content: model.TextContent("x")})
	}

	assert.Len(t, ch, 1)
	sess, _ := s.Session("s1")
	assert.Len(t, sess.History, 10)
}

func TestCloseEndsSubscriptionsAndIgnoresWrites(t *testing.T) {
	s := New()
	_, ch, _ := s.Subscribe()
	s.UpsertSession(newSession("s1"))
	<-ch

	s.Close()
	_, open := <-ch
	assert.False(t, open)

	s.UpsertSession(newSession("s2"))
	assert.Len(t, s.Sessions(), 1)

	_, late, _ := s.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestConcurrentWritersToDifferentSessions(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Session{newSession("a"), newSession("b")})
	_, pa, _ := s.AppendTurn("a", model.Message{Role: model.RoleUser}, model.Message{Role: model.RoleAssistant})
	_, pb, _ := s.AppendTurn("b", model.Message{Role: model.RoleUser}, model.Message{Role: model.RoleAssistant})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); s.ReplaceMessageContent("a", pa, model.OutlineContent("a", "")) }()
		go func() { defer wg.Done(); s.ReplaceMessageContent("b", pb, model.OutlineContent("b", "")) }()
		go func() { defer wg.Done(); _ = s.Snapshot() }()
	}
	wg.Wait()

	a, _ := s.Session("a")
	b, _ := s.Session("b")
	assert.Equal(t, "a", a.History[pa].Content.Outline)
	assert.Equal(t, "b", b.History[pb].Content.Outline)
}

func TestRemoteCopiesKeepInFlightHistory(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Session{newSession("a"), newSession("b")})
	s.SetInFlight("a", true)
	_, p, _ := s.AppendTurn("a",
		model.Message{Role: model.RoleUser, Content: model.TextContent("q")},
		model.Message{Role: model.RoleAssistant, Content: model.OutlineContent("思考中...", "")},
	)
	s.PatchSession("a", model.SessionPatch{Name: model.StringPtr("q")})

	// 远端副本没有这一轮对话，也没有名称
	s.UpsertSession(newSession("a"))
	a, _ := s.Session("a")
	require.Len(t, a.History, 2)
	assert.Equal(t, "q", a.Title())

	// 列表中缺少发送中的会话时保留在末尾
	s.ReplaceAll([]model.Session{newSession("b"), newSession("c")})
	all := s.Sessions()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	require.True(t, s.ReplaceMessageContent("a", p, model.OutlineContent("done", "d")))
	a, _ = s.Session("a")
	assert.Equal(t, model.TextContent("q"), a.History[0].Content)
	assert.Equal(t, model.OutlineContent("done", "d"), a.History[p].Content)

	// 发送结束后远端副本重新生效
	s.SetInFlight("a", false)
	s.UpsertSession(newSession("a"))
	a, _ = s.Session("a")
	assert.Empty(t, a.History)
	assert.Nil(t, a.Name)
}
