package docsession_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/synapsehub/hub/internal/crdt"
	"github.com/synapsehub/hub/internal/domain/docsession"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type fakeChannel struct {
	updates   [][]byte
	awareness []docsession.Awareness
	updatedBy string
}

func (f *fakeChannel) SendUpdate(data []byte) { f.updates = append(f.updates, data) }
func (f *fakeChannel) SendAwareness(updatedBy string, editors []docsession.Awareness) {
	f.updatedBy = updatedBy
	f.awareness = editors
}

func TestManager_CreateIsIdempotent(t *testing.T) {
	m := docsession.NewManager(&fakeClock{now: time.Now()})

	created, meta := m.Create("main.go", "hello")
	require.True(t, created)
	require.Equal(t, "main.go", meta.Path)

	created2, meta2 := m.Create("main.go", "ignored")
	require.False(t, created2)
	require.Equal(t, meta.CreatedAt, meta2.CreatedAt)

	text, ok := m.GetTextContent("main.go")
	require.True(t, ok)
	require.Equal(t, "hello", text)
}

func TestManager_JoinFailsWithoutCreate(t *testing.T) {
	m := docsession.NewManager(&fakeClock{now: time.Now()})
	ch := &fakeChannel{}
	_, _, ok := m.Join("nope.go", ch, "a1", "alice")
	require.False(t, ok)
}

func TestManager_JoinBroadcastsSnapshotAndAwareness(t *testing.T) {
	m := docsession.NewManager(&fakeClock{now: time.Now()})
	m.Create("main.go", "hi")

	ch1 := &fakeChannel{}
	snap, editors, ok := m.Join("main.go", ch1, "a1", "alice")
	require.True(t, ok)
	require.NotEmpty(t, snap)
	require.Len(t, editors, 1)

	ch2 := &fakeChannel{}
	_, editors2, ok := m.Join("main.go", ch2, "a2", "bob")
	require.True(t, ok)
	require.Len(t, editors2, 2)

	// ch1 is already on the session; it must receive a fresh awareness
	// broadcast listing both editors, not just the returned value seen by
	// the joiner itself (spec §8 scenario 2).
	require.Equal(t, "a2", ch1.updatedBy)
	require.Len(t, ch1.awareness, 2)
}

func TestManager_ApplyUpdateBroadcastsExceptSender(t *testing.T) {
	m := docsession.NewManager(&fakeClock{now: time.Now()})
	m.Create("main.go", "")

	ch1 := &fakeChannel{}
	ch2 := &fakeChannel{}
	m.Join("main.go", ch1, "a1", "alice")
	m.Join("main.go", ch2, "a2", "bob")

	scratch := crdt.NewDocument("a1")
	ops := scratch.InsertText(0, "hi")
	data, err := crdt.EncodeOps(ops)
	require.NoError(t, err)

	ok := m.ApplyUpdate("main.go", data, ch1)
	require.True(t, ok)
	require.Empty(t, ch1.updates)
	require.Len(t, ch2.updates, 1)

	text, _ := m.GetTextContent("main.go")
	require.Equal(t, "hi", text)
}

func TestManager_LeaveArmsGCAndDestroysWhenEmpty(t *testing.T) {
	original := docsession.GCGrace
	docsession.GCGrace = 20 * time.Millisecond
	defer func() { docsession.GCGrace = original }()

	m := docsession.NewManager(&fakeClock{now: time.Now()})
	m.Create("main.go", "")
	ch := &fakeChannel{}
	m.Join("main.go", ch, "a1", "alice")

	m.Leave("main.go", ch)
	sessions := m.ListSessions()
	require.Len(t, sessions, 1)
	require.Equal(t, 0, sessions[0].EditorCount)

	time.Sleep(docsession.GCGrace + 50*time.Millisecond)
	require.Empty(t, m.ListSessions())
}

func TestManager_UpdateAwarenessMergesAndBroadcasts(t *testing.T) {
	m := docsession.NewManager(&fakeClock{now: time.Now()})
	m.Create("main.go", "")
	ch1 := &fakeChannel{}
	ch2 := &fakeChannel{}
	m.Join("main.go", ch1, "a1", "alice")
	m.Join("main.go", ch2, "a2", "bob")

	cursor := 5
	ok := m.UpdateAwareness("main.go", "a1", &cursor, true, ch1)
	require.True(t, ok)
	require.Equal(t, "a1", ch2.updatedBy)
	require.Len(t, ch2.awareness, 2)
}
