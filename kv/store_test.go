package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreGetReturnsDefaultForMissingKey(t *testing.T) {
	s := NewStore("")
	assert.Equal(t, "", s.Get("missing"))
}

func TestStoreSetThenGet(t *testing.T) {
	s := NewStore("")
	s.Set("a", "1")
	assert.Equal(t, "1", s.Get("a"))
}

func TestStoreCasSucceedsWhenExpectedMatches(t *testing.T) {
	s := NewStore("")
	s.Set("a", "1")
	old := s.Cas("a", "1", "2")
	assert.Equal(t, "1", old)
	assert.Equal(t, "2", s.Get("a"))
}

func TestStoreCasFailsWhenExpectedDoesNotMatch(t *testing.T) {
	s := NewStore("")
	s.Set("a", "1")
	old := s.Cas("a", "wrong", "2")
	assert.Equal(t, "1", old)
	assert.Equal(t, "1", s.Get("a"))
}

func TestStoreSnapshotRoundTrip(t *testing.T) {
	s := NewStore("")
	s.Set("a", "1")
	s.Set("b", "2")

	snapshot := s.MakeSnapshot()
	assert.Len(t, snapshot, 2)

	s2 := NewStore("")
	s2.Install(snapshot)
	assert.Equal(t, "1", s2.Get("a"))
	assert.Equal(t, "2", s2.Get("b"))
}
