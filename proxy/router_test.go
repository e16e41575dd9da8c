package proxy

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dsyscourse/rsm/rsm"
)

// fakeExecutor simulates a small replica pool: one leader accepts
// commands directly, followers redirect or refuse, and one address is
// simply unreachable.
type fakeExecutor struct {
	leader      string
	unreachable map[string]bool
	calls       []string
}

func (f *fakeExecutor) Execute(addr string, cmd rsm.Command) (rsm.Response, error) {
	f.calls = append(f.calls, addr)
	if f.unreachable[addr] {
		return rsm.Response{}, errors.New("connection refused")
	}
	if addr == f.leader {
		return rsm.Response{Kind: rsm.Ack, Result: []byte("ok")}, nil
	}
	return rsm.Response{Kind: rsm.RedirectToLeader, RedirectTo: f.leader}, nil
}

func TestRouterFollowsRedirectToLeader(t *testing.T) {
	exec := &fakeExecutor{leader: "r2"}
	r := NewRouter([]string{"r1", "r2", "r3"}, exec, zerolog.Nop())

	resp, err := r.Execute(rsm.Command{Type: "Set"})
	require.NoError(t, err)
	require.Equal(t, rsm.Ack, resp.Kind)
	require.Equal(t, []byte("ok"), resp.Result)
}

func TestRouterCachesLeaderGuessAcrossCalls(t *testing.T) {
	exec := &fakeExecutor{leader: "r2"}
	r := NewRouter([]string{"r1", "r2", "r3"}, exec, zerolog.Nop())

	_, err := r.Execute(rsm.Command{Type: "Set"})
	require.NoError(t, err)

	exec.calls = nil
	resp, err := r.Execute(rsm.Command{Type: "Get"})
	require.NoError(t, err)
	require.Equal(t, rsm.Ack, resp.Kind)
	require.Equal(t, "r2", exec.calls[0])
}

func TestRouterRetriesPastUnreachableReplicas(t *testing.T) {
	exec := &fakeExecutor{leader: "r3", unreachable: map[string]bool{"r1": true, "r2": true}}
	r := NewRouter([]string{"r1", "r2", "r3"}, exec, zerolog.Nop())

	resp, err := r.Execute(rsm.Command{Type: "Set"})
	require.NoError(t, err)
	require.Equal(t, rsm.Ack, resp.Kind)
}

func TestRouterReturnsErrorWhenNoReplicaAccepts(t *testing.T) {
	exec := &fakeExecutor{unreachable: map[string]bool{"r1": true, "r2": true, "r3": true}}
	r := NewRouter([]string{"r1", "r2", "r3"}, exec, zerolog.Nop())

	_, err := r.Execute(rsm.Command{Type: "Set"})
	require.Error(t, err)
}
