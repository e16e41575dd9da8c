package kv

import (
	"fmt"

	rsmclient "github.com/dsyscourse/rsm/client"
)

// Client is a typed KV wrapper over the generic RSM client, mirroring the
// original kv::Client's thin Set/Get/Cas dispatch over rsm::Client.
type Client struct {
	rsm *rsmclient.Client
}

func NewClient(rsm *rsmclient.Client) *Client {
	return &Client{rsm: rsm}
}

func (c *Client) Set(key Key, value Value) error {
	_, err := c.rsm.Execute(OpSet, encode(SetRequest{Key: key, Value: value}), false)
	return err
}

func (c *Client) Get(key Key) (Value, error) {
	raw, err := c.rsm.Execute(OpGet, encode(GetRequest{Key: key}), true)
	if err != nil {
		return "", err
	}
	resp, err := decode[GetResponse](raw)
	if err != nil {
		return "", fmt.Errorf("kv: decoding Get response: %w", err)
	}
	return resp.Value, nil
}

func (c *Client) Cas(key Key, expected, desired Value) (Value, error) {
	raw, err := c.rsm.Execute(OpCas, encode(CasRequest{Key: key, Expected: expected, Desired: desired}), false)
	if err != nil {
		return "", err
	}
	resp, err := decode[CasResponse](raw)
	if err != nil {
		return "", fmt.Errorf("kv: decoding Cas response: %w", err)
	}
	return resp.OldValue, nil
}
