package rsm

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// encodeCommand serializes a Command into the raft.Command byte payload
// that package raft replicates. gob is used here (rather than JSON, which
// the rest of this module's durable storage favors) because this payload
// is only ever produced and read by this module: it is encoded once by
// the leader's Execute call, carried opaquely inside raft log entries
// (replicated to peers and persisted by the Log), and decoded once per
// replica's apply loop, all by matching binaries of this module.
func encodeCommand(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cmd); err != nil {
		return nil, fmt.Errorf("rsm: encoding command: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&cmd); err != nil {
		return Command{}, fmt.Errorf("rsm: decoding command: %w", err)
	}
	return cmd, nil
}
