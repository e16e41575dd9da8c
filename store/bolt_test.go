package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsyscourse/rsm/raft"
)

func openTestBolt(t *testing.T) *Bolt {
	t.Helper()
	b, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestLogAppendReadRoundTrip(t *testing.T) {
	b := openTestBolt(t)
	log := b.Log()
	require.NoError(t, log.Open())
	assert.Equal(t, raft.LogIndex(0), log.Length())

	require.NoError(t, log.Append([]raft.LogEntry{
		{TermNo: 1, Command: raft.Command("a")},
		{TermNo: 1, Command: raft.Command("b")},
	}, 0))
	assert.Equal(t, raft.LogIndex(2), log.Length())

	e, err := log.Read(2)
	require.NoError(t, err)
	assert.Equal(t, raft.Command("b"), e.Command)

	term, err := log.LastLogTerm()
	require.NoError(t, err)
	assert.Equal(t, raft.TermNo(1), term)
}

func TestLogTruncateSuffix(t *testing.T) {
	b := openTestBolt(t)
	log := b.Log()
	require.NoError(t, log.Open())
	require.NoError(t, log.Append([]raft.LogEntry{
		{TermNo: 1, Command: raft.Command("a")},
		{TermNo: 1, Command: raft.Command("b")},
		{TermNo: 2, Command: raft.Command("c")},
	}, 0))

	require.NoError(t, log.TruncateSuffix(2))
	assert.Equal(t, raft.LogIndex(1), log.Length())
	require.NoError(t, log.Append([]raft.LogEntry{{TermNo: 3, Command: raft.Command("d")}}, 1))

	e, err := log.Read(2)
	require.NoError(t, err)
	assert.Equal(t, raft.Command("d"), e.Command)
}

func TestLogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir)
	require.NoError(t, err)
	log := b.Log()
	require.NoError(t, log.Open())
	require.NoError(t, log.Append([]raft.LogEntry{{TermNo: 5, Command: raft.Command("x")}}, 0))
	require.NoError(t, b.Close())

	b2, err := Open(dir)
	require.NoError(t, err)
	defer b2.Close()
	log2 := b2.Log()
	require.NoError(t, log2.Open())
	assert.Equal(t, raft.LogIndex(1), log2.Length())
	e, err := log2.Read(1)
	require.NoError(t, err)
	assert.Equal(t, raft.TermNo(5), e.TermNo)
}

func TestMetadataStoreRoundTrip(t *testing.T) {
	b := openTestBolt(t)
	ms := b.MetadataStore()

	_, found, err := ms.TryLoadUint64("currentTerm")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, ms.StoreUint64("currentTerm", 7))
	v, found, err := ms.TryLoadUint64("currentTerm")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(7), v)

	require.NoError(t, ms.StoreString("votedFor", "s2"))
	s, found, err := ms.TryLoadString("votedFor")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "s2", s)
}
