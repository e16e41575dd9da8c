package kv

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// StateMachine adapts Store to statemachine.StateMachine by dispatching
// on the rsm.Command's Type field, mirroring the dispatch kv::Client does
// on the client side in reverse (grounded on the original kv store's
// Set/Get/Cas trio).
type StateMachine struct {
	store *Store
}

func NewStateMachine(defaultValue Value) *StateMachine {
	return &StateMachine{store: NewStore(defaultValue)}
}

func (m *StateMachine) Reset() {
	m.store.Clear()
}

// Apply decodes request according to the caller-supplied operation type
// and applies it to the underlying Store. The caller (package rsm) is
// expected to pass the same bytes a kv.Client (or EncodeSetRequest /
// EncodeGetRequest / EncodeCasRequest) encoded; Apply panics on a type it does not recognize,
// since that can only happen from a programming error in this module,
// never from untrusted client input (the wire format is internal).
func (m *StateMachine) Apply(opType string, request []byte) []byte {
	switch opType {
	case OpSet:
		req, err := decode[SetRequest](request)
		if err != nil {
			panic(fmt.Sprintf("kv: decoding Set request: %v", err))
		}
		m.store.Set(req.Key, req.Value)
		return encode(SetResponse{})
	case OpGet:
		req, err := decode[GetRequest](request)
		if err != nil {
			panic(fmt.Sprintf("kv: decoding Get request: %v", err))
		}
		return encode(GetResponse{Value: m.store.Get(req.Key)})
	case OpCas:
		req, err := decode[CasRequest](request)
		if err != nil {
			panic(fmt.Sprintf("kv: decoding Cas request: %v", err))
		}
		old := m.store.Cas(req.Key, req.Expected, req.Desired)
		return encode(CasResponse{OldValue: old})
	default:
		panic(fmt.Sprintf("kv: unknown operation type: %q", opType))
	}
}

func (m *StateMachine) MakeSnapshot() ([]byte, error) {
	entries := m.store.MakeSnapshot()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return nil, fmt.Errorf("kv: encoding snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *StateMachine) InstallSnapshot(snapshot []byte) error {
	var entries []KeyValue
	if err := gob.NewDecoder(bytes.NewReader(snapshot)).Decode(&entries); err != nil {
		return fmt.Errorf("kv: decoding snapshot: %w", err)
	}
	m.store.Install(entries)
	return nil
}
