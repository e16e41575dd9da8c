package raft

// MetadataStore is a typed key/value persistence facility (C2 in spec.md).
// Keys used by package raft: "currentTerm", "votedFor", "commitIndex".
//
// TryLoad returns (zero value, false, nil) when the key has never been
// stored. Store is a durable write: it must not return until the value is
// crash-recoverable.
type MetadataStore interface {
	TryLoadUint64(key string) (value uint64, found bool, err error)
	StoreUint64(key string, value uint64) error

	TryLoadString(key string) (value string, found bool, err error)
	StoreString(key string, value string) error
}

const (
	metadataKeyCurrentTerm = "currentTerm"
	metadataKeyVotedFor    = "votedFor"
	metadataKeyCommitIndex = "commitIndex"
)

// PersistentState caches currentTerm and votedFor in memory and persists
// them to a MetadataStore, writing through only when the cached value
// actually changes (spec.md §4.4.9: currentTerm and votedFor must be
// durable before any outgoing RequestVote, vote grant, or AppendEntries
// referencing them — but there is no need to re-write values that have not
// changed since the last flush).
//
// commitIndex is handled separately by Node: it stores it on every
// advance, and on restart loads a missing value as 0 and clamps a stored
// value that exceeds the log's length.
type PersistentState struct {
	store MetadataStore

	currentTerm TermNo
	votedFor    ServerId
	hasVotedFor bool

	persistedCurrentTerm TermNo
	persistedVotedFor    ServerId
	persistedHasVotedFor bool
}

// NewPersistentState loads currentTerm and votedFor from store, defaulting
// to 0 and "none" respectively when absent.
func NewPersistentState(store MetadataStore) (*PersistentState, error) {
	ps := &PersistentState{store: store}

	term, found, err := store.TryLoadUint64(metadataKeyCurrentTerm)
	if err != nil {
		return nil, err
	}
	if found {
		ps.currentTerm = TermNo(term)
		ps.persistedCurrentTerm = ps.currentTerm
	}

	votedFor, found, err := store.TryLoadString(metadataKeyVotedFor)
	if err != nil {
		return nil, err
	}
	if found && votedFor != "" {
		ps.votedFor = ServerId(votedFor)
		ps.hasVotedFor = true
		ps.persistedVotedFor = ps.votedFor
		ps.persistedHasVotedFor = true
	}

	return ps, nil
}

func (ps *PersistentState) GetCurrentTerm() TermNo {
	return ps.currentTerm
}

// GetVotedFor returns the ServerId voted for in the current term, and
// whether a vote has been cast at all.
func (ps *PersistentState) GetVotedFor() (ServerId, bool) {
	return ps.votedFor, ps.hasVotedFor
}

// SetCurrentTermAndVotedFor sets both currentTerm and votedFor together —
// the only legal combinations per spec.md §3 are "bump term, clear vote"
// (on seeing a higher term) and "same term, cast/confirm vote". Flush must
// be called afterwards before the new values are used in an outgoing RPC.
func (ps *PersistentState) SetCurrentTermAndVotedFor(term TermNo, votedFor ServerId, hasVotedFor bool) {
	ps.currentTerm = term
	ps.votedFor = votedFor
	ps.hasVotedFor = hasVotedFor
}

// Flush durably persists any currentTerm/votedFor values that differ from
// what was last persisted. It is a no-op if nothing changed.
func (ps *PersistentState) Flush() error {
	if ps.persistedCurrentTerm != ps.currentTerm {
		if err := ps.store.StoreUint64(metadataKeyCurrentTerm, uint64(ps.currentTerm)); err != nil {
			return err
		}
		ps.persistedCurrentTerm = ps.currentTerm
	}
	if ps.hasVotedFor && (!ps.persistedHasVotedFor || ps.persistedVotedFor != ps.votedFor) {
		if err := ps.store.StoreString(metadataKeyVotedFor, string(ps.votedFor)); err != nil {
			return err
		}
		ps.persistedVotedFor = ps.votedFor
		ps.persistedHasVotedFor = true
	} else if !ps.hasVotedFor && ps.persistedHasVotedFor {
		if err := ps.store.StoreString(metadataKeyVotedFor, ""); err != nil {
			return err
		}
		ps.persistedHasVotedFor = false
	}
	return nil
}

// LoadCommitIndex reads the lazily-persisted commitIndex, defaulting to 0.
func LoadCommitIndex(store MetadataStore) (LogIndex, error) {
	v, found, err := store.TryLoadUint64(metadataKeyCommitIndex)
	if err != nil || !found {
		return 0, err
	}
	return LogIndex(v), nil
}

// StoreCommitIndex durably persists commitIndex. Node calls it on every
// commitIndex advance.
func StoreCommitIndex(store MetadataStore, index LogIndex) error {
	return store.StoreUint64(metadataKeyCommitIndex, uint64(index))
}
