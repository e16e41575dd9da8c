// Package kv is a small replicated key/value store built on top of
// package rsm: three operations (Set, Get, Cas) whose requests and
// responses are gob-encoded into the opaque bytes that rsm.Command
// carries and statemachine.StateMachine.Apply returns.
package kv

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

type Key = string
type Value = string

const (
	OpSet = "Set"
	OpGet = "Get"
	OpCas = "Cas"
)

type SetRequest struct {
	Key   Key
	Value Value
}

type SetResponse struct{}

type GetRequest struct {
	Key Key
}

type GetResponse struct {
	Value Value
}

type CasRequest struct {
	Key      Key
	Expected Value
	Desired  Value
}

type CasResponse struct {
	OldValue Value
}

func encode[T any](v T) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic(fmt.Sprintf("kv: encode: %v", err))
	}
	return buf.Bytes()
}

func decode[T any](data []byte) (T, error) {
	var v T
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}

// EncodeSetRequest serializes a Set request, for callers (such as package
// sim's tests) that submit rsm.Command values directly instead of going
// through Client.
func EncodeSetRequest(key Key, value Value) []byte {
	return encode(SetRequest{Key: key, Value: value})
}

// EncodeGetRequest serializes a Get request.
func EncodeGetRequest(key Key) []byte {
	return encode(GetRequest{Key: key})
}

// DecodeGetResponse deserializes a Get response.
func DecodeGetResponse(data []byte) (GetResponse, error) {
	return decode[GetResponse](data)
}

// EncodeCasRequest serializes a Cas request.
func EncodeCasRequest(key Key, expected, desired Value) []byte {
	return encode(CasRequest{Key: key, Expected: expected, Desired: desired})
}

// DecodeCasResponse deserializes a Cas response.
func DecodeCasResponse(data []byte) (CasResponse, error) {
	return decode[CasResponse](data)
}
