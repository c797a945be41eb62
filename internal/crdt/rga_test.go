package crdt_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/synapsehub/hub/internal/crdt"
)

func TestDocument_InsertAndText(t *testing.T) {
	doc := crdt.NewDocument("a1")
	doc.InsertText(0, "init")
	require.Equal(t, "init", doc.Text())
	require.Equal(t, 4, doc.Len())
}

func TestDocument_ConcurrentReplicaConvergence(t *testing.T) {
	a := crdt.NewDocument("a1")
	ops := a.InsertText(0, "init")

	b := crdt.NewDocument("a2")
	for _, op := range ops {
		b.Apply(op)
	}
	require.Equal(t, a.Text(), b.Text())

	// a1 inserts "X" at offset 0; replay on b reconstructs "Xinit".
	insertOps := a.InsertText(0, "X")
	for _, op := range insertOps {
		b.Apply(op)
	}
	require.Equal(t, "Xinit", a.Text())
	require.Equal(t, "Xinit", b.Text())
}

func TestDocument_DeleteRange(t *testing.T) {
	doc := crdt.NewDocument("a1")
	doc.InsertText(0, "hello world")
	doc.DeleteRange(5, 6)
	require.Equal(t, "hello", doc.Text())
}

func TestDocument_SnapshotRoundTrip(t *testing.T) {
	doc := crdt.NewDocument("a1")
	doc.InsertText(0, "snapshot me")

	snap, err := doc.Snapshot()
	require.NoError(t, err)

	restored, err := crdt.LoadSnapshot("a2", snap)
	require.NoError(t, err)
	require.Equal(t, doc.Text(), restored.Text())
}

func TestEncodeDecodeOps_RoundTrip(t *testing.T) {
	doc := crdt.NewDocument("a1")
	ops := doc.InsertText(0, "abc")

	bytes, err := crdt.EncodeOps(ops)
	require.NoError(t, err)

	decoded, err := crdt.DecodeOps(bytes)
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	other := crdt.NewDocument("a2")
	for _, op := range decoded {
		other.Apply(op)
	}
	require.Equal(t, "abc", other.Text())
}
