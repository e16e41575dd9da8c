package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dsyscourse/rsm/rsm"
)

type fakeRouter struct {
	lastCmd rsm.Command
	resp    rsm.Response
	err     error
}

func (f *fakeRouter) Execute(cmd rsm.Command) (rsm.Response, error) {
	f.lastCmd = cmd
	return f.resp, f.err
}

func TestExecuteAssignsIncreasingRequestIndexes(t *testing.T) {
	router := &fakeRouter{resp: rsm.Response{Kind: rsm.Ack, Result: []byte("ok")}}
	c := New(router)

	_, err := c.Execute("Set", []byte("first"), false)
	require.NoError(t, err)
	require.Equal(t, uint64(1), router.lastCmd.RequestId.Index)

	_, err = c.Execute("Set", []byte("second"), false)
	require.NoError(t, err)
	require.Equal(t, uint64(2), router.lastCmd.RequestId.Index)

	require.NotEmpty(t, router.lastCmd.RequestId.ClientId)
}

func TestExecuteReturnsResultBytes(t *testing.T) {
	router := &fakeRouter{resp: rsm.Response{Kind: rsm.Ack, Result: []byte("value")}}
	c := New(router)

	result, err := c.Execute("Get", []byte("key"), true)
	require.NoError(t, err)
	require.Equal(t, []byte("value"), result)
	require.True(t, router.lastCmd.ReadOnly)
}
