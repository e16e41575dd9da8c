package sim

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dsyscourse/rsm/kv"
	"github.com/dsyscourse/rsm/raft"
	"github.com/dsyscourse/rsm/rsm"
)

// kvModel is the sequential specification of kv.Store used to check
// histories recorded against a real cluster: its Apply mirrors
// kv.Store.Set/Get/Cas exactly (same default-value and Cas semantics),
// operating on a plain map instead of a btree since the model only ever
// needs to be correct, not fast.
type kvModel struct {
	defaultValue kv.Value
}

func (m kvModel) Init() interface{} {
	return map[kv.Key]kv.Value{}
}

func cloneMap(state map[kv.Key]kv.Value) map[kv.Key]kv.Value {
	next := make(map[kv.Key]kv.Value, len(state))
	for k, v := range state {
		next[k] = v
	}
	return next
}

func (m kvModel) Apply(state interface{}, input interface{}) (interface{}, interface{}) {
	s := state.(map[kv.Key]kv.Value)
	switch req := input.(type) {
	case kv.SetRequest:
		next := cloneMap(s)
		next[req.Key] = req.Value
		return next, kv.SetResponse{}
	case kv.GetRequest:
		v, ok := s[req.Key]
		if !ok {
			v = m.defaultValue
		}
		return s, kv.GetResponse{Value: v}
	case kv.CasRequest:
		old, ok := s[req.Key]
		if !ok {
			old = m.defaultValue
		}
		if old != req.Expected {
			return s, kv.CasResponse{OldValue: old}
		}
		next := cloneMap(s)
		next[req.Key] = req.Desired
		return next, kv.CasResponse{OldValue: old}
	default:
		panic(fmt.Sprintf("sim: kvModel: unknown input type %T", input))
	}
}

// executeAgainstLeader runs cmd against whichever replica currently
// believes itself leader, retrying on NotALeader/RedirectToLeader the way
// proxy.Router does, so a concurrent caller isn't tripped up by an
// election happening mid-test.
func executeAgainstLeader(t *testing.T, c *Cluster, cmd rsm.Command) rsm.Response {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, leader, ok := c.Leader()
		if !ok {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		resp := leader.Execute(cmd)
		if resp.Kind == rsm.Ack {
			return resp
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("sim: could not execute command %+v against a leader before deadline", cmd)
	return rsm.Response{}
}

// TestConcurrentExecuteIsLinearizable drives several clients issuing
// Set/Get/Cas concurrently against a live cluster, records the resulting
// history, and checks it against kvModel with CheckLinearizable — the
// end-to-end exercise of spec.md §7's Linearizability property that a
// checker over Execute histories is meant to provide.
func TestConcurrentExecuteIsLinearizable(t *testing.T) {
	ids := []raft.ServerId{"n1", "n2", "n3"}
	c, err := NewCluster(ids, testConfig(), kvFactory(), zerolog.Nop())
	require.NoError(t, err)
	defer c.Stop()

	awaitLeader(t, c)

	const clients = 4
	const opsPerClient = 5

	var mu sync.Mutex
	var history History

	record := func(clientId string, input interface{}, output interface{}, start, end time.Time) {
		mu.Lock()
		defer mu.Unlock()
		history = append(history, Operation{
			ClientID: clientId,
			Input:    input,
			Output:   output,
			Start:    start,
			End:      end,
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		clientId := fmt.Sprintf("client-%d", i)
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerClient; j++ {
				key := kv.Key("k")
				reqId := rsm.RequestId{ClientId: rsm.ClientId(clientId), Index: uint64(j + 1)}

				switch j % 3 {
				case 0:
					value := kv.Value(fmt.Sprintf("%s-%d", clientId, j))
					in := kv.SetRequest{Key: key, Value: value}
					start := time.Now()
					executeAgainstLeader(t, c, rsm.Command{
						Type: kv.OpSet, Request: kv.EncodeSetRequest(key, value), RequestId: reqId,
					})
					end := time.Now()
					record(clientId, in, kv.SetResponse{}, start, end)
				case 1:
					in := kv.GetRequest{Key: key}
					start := time.Now()
					resp := executeAgainstLeader(t, c, rsm.Command{
						Type: kv.OpGet, Request: kv.EncodeGetRequest(key), RequestId: reqId,
					})
					end := time.Now()
					out, err := kv.DecodeGetResponse(resp.Result)
					require.NoError(t, err)
					record(clientId, in, out, start, end)
				default:
					expected := kv.Value(fmt.Sprintf("%s-%d", clientId, j-1))
					desired := kv.Value(fmt.Sprintf("%s-cas-%d", clientId, j))
					in := kv.CasRequest{Key: key, Expected: expected, Desired: desired}
					start := time.Now()
					resp := executeAgainstLeader(t, c, rsm.Command{
						Type:      kv.OpCas,
						Request:   kv.EncodeCasRequest(key, expected, desired),
						RequestId: reqId,
					})
					end := time.Now()
					out, err := kv.DecodeCasResponse(resp.Result)
					require.NoError(t, err)
					record(clientId, in, out, start, end)
				}
			}
		}()
	}
	wg.Wait()

	ok, err := CheckLinearizable(history, kvModel{defaultValue: ""})
	require.NoError(t, err)
	require.True(t, ok)
}
