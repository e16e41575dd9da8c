// Package client is the blocking RSM client library (C7): it generates a
// unique client id, assigns each request the next index in a strictly
// increasing per-client sequence, and relies on the replica-side dedup
// cache (package rsm) to make its own at-least-once retries
// indistinguishable from exactly-once delivery.
package client

import (
	"github.com/google/uuid"

	"github.com/dsyscourse/rsm/rsm"
)

// Router is the capability Client needs: package proxy's in-process
// Router satisfies it directly, and package transport's ProxyClient
// satisfies it over the network, so a Client is indifferent to whether
// its proxy is in the same process or across an RPC connection.
type Router interface {
	Execute(cmd rsm.Command) (rsm.Response, error)
}

// Client is not safe for concurrent use: a single client only ever has
// one request in flight at a time, which is what lets package rsm's
// dedup cache key purely on (client id, latest index) rather than a full
// per-index history.
type Client struct {
	router   Router
	clientId rsm.ClientId
	nextIdx  uint64
}

// New creates a Client with a freshly generated client id, routing every
// request through router.
func New(router Router) *Client {
	return &Client{
		router:   router,
		clientId: rsm.ClientId(uuid.NewString()),
	}
}

// Execute submits one operation and blocks until it has been applied or
// the underlying Router gives up. Execute itself makes a single Router
// call and does not retry; whatever retrying happens is the Router's
// (proxy.Router tries every replica for a bounded number of rounds and
// then returns an error, which Execute passes back unchanged).
func (c *Client) Execute(opType string, request []byte, readOnly bool) ([]byte, error) {
	c.nextIdx++
	cmd := rsm.Command{
		Type:    opType,
		Request: request,
		RequestId: rsm.RequestId{
			ClientId: c.clientId,
			Index:    c.nextIdx,
		},
		ReadOnly: readOnly,
	}
	resp, err := c.router.Execute(cmd)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}
