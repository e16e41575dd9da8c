// Package transport is the minimal net/rpc binding used by the cmd/
// binaries to carry Raft RPCs and client Execute calls over the network.
// It is intentionally small: the deterministic simulation harness
// (package sim) never touches it, wiring raft.Transport directly to
// in-process Replicas instead.
package transport

import (
	"fmt"
	"net"
	"net/rpc"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dsyscourse/rsm/raft"
	"github.com/dsyscourse/rsm/rsm"
)

// ExecuteArgs/ExecuteReply are the net/rpc argument/reply pair for
// Replica.Execute, gob-encoded like every other net/rpc call in this
// package.
type ExecuteArgs struct {
	Type     string
	Request  []byte
	ClientId string
	Index    uint64
	ReadOnly bool
}

type ExecuteReply struct {
	Kind       int
	Result     []byte
	RedirectTo string
}

func toExecuteReply(resp rsm.Response) ExecuteReply {
	return ExecuteReply{Kind: int(resp.Kind), Result: resp.Result, RedirectTo: resp.RedirectTo}
}

func fromExecuteReply(reply ExecuteReply) rsm.Response {
	return rsm.Response{Kind: rsm.ResponseKind(reply.Kind), Result: reply.Result, RedirectTo: reply.RedirectTo}
}

// Server exposes one replica's RequestVote, AppendEntries and Execute
// operations as net/rpc methods.
type Server struct {
	replica *rsm.Replica
}

// NewServer wraps replica for RPC serving.
func NewServer(replica *rsm.Replica) *Server {
	return &Server{replica: replica}
}

// ListenAndServe registers s on a fresh net/rpc server and serves it on
// addr, blocking until the listener errors (e.g. on shutdown).
func ListenAndServe(addr string, s *Server, logger zerolog.Logger) error {
	server := rpc.NewServer()
	if err := server.RegisterName("Replica", s); err != nil {
		return fmt.Errorf("transport: registering RPC service: %w", err)
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listening on %s: %w", addr, err)
	}
	logger.Info().Str("addr", addr).Msg("rpc server listening")
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go server.ServeConn(conn)
	}
}

func (s *Server) RequestVote(args *raft.RequestVoteRequest, reply *raft.RequestVoteReply) error {
	r, err := s.replica.HandleRequestVote(args)
	if err != nil {
		return err
	}
	*reply = *r
	return nil
}

func (s *Server) AppendEntries(args *raft.AppendEntriesRequest, reply *raft.AppendEntriesReply) error {
	r, err := s.replica.HandleAppendEntries(args)
	if err != nil {
		return err
	}
	*reply = *r
	return nil
}

func (s *Server) Execute(args *ExecuteArgs, reply *ExecuteReply) error {
	resp := s.replica.Execute(rsm.Command{
		Type:    args.Type,
		Request: args.Request,
		RequestId: rsm.RequestId{
			ClientId: rsm.ClientId(args.ClientId),
			Index:    args.Index,
		},
		ReadOnly: args.ReadOnly,
	})
	*reply = toExecuteReply(resp)
	return nil
}

// connPool lazily dials and caches one *rpc.Client per address, shared by
// both RaftClient and ExecuteClient below.
type connPool struct {
	mu    sync.Mutex
	conns map[string]*rpc.Client
}

func newConnPool() *connPool {
	return &connPool{conns: make(map[string]*rpc.Client)}
}

func (p *connPool) get(addr string) (*rpc.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[addr]; ok {
		return c, nil
	}
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	p.conns[addr] = c
	return c, nil
}

func (p *connPool) drop(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[addr]; ok {
		c.Close()
		delete(p.conns, addr)
	}
}

// RaftClient implements raft.Transport by dialing the peer addresses in
// addrs over net/rpc, reconnecting on the next call after any error.
type RaftClient struct {
	addrs map[raft.ServerId]string
	pool  *connPool
}

func NewRaftClient(addrs map[raft.ServerId]string) *RaftClient {
	return &RaftClient{addrs: addrs, pool: newConnPool()}
}

func (c *RaftClient) SendRequestVote(peer raft.ServerId, req *raft.RequestVoteRequest) (*raft.RequestVoteReply, error) {
	addr, ok := c.addrs[peer]
	if !ok {
		return nil, fmt.Errorf("transport: no address for peer %v", peer)
	}
	client, err := c.pool.get(addr)
	if err != nil {
		return nil, err
	}
	var reply raft.RequestVoteReply
	if err := client.Call("Replica.RequestVote", req, &reply); err != nil {
		c.pool.drop(addr)
		return nil, err
	}
	return &reply, nil
}

func (c *RaftClient) SendAppendEntries(peer raft.ServerId, req *raft.AppendEntriesRequest) (*raft.AppendEntriesReply, error) {
	addr, ok := c.addrs[peer]
	if !ok {
		return nil, fmt.Errorf("transport: no address for peer %v", peer)
	}
	client, err := c.pool.get(addr)
	if err != nil {
		return nil, err
	}
	var reply raft.AppendEntriesReply
	if err := client.Call("Replica.AppendEntries", req, &reply); err != nil {
		c.pool.drop(addr)
		return nil, err
	}
	return &reply, nil
}

// ExecuteClient is the client-side stub package proxy's Router uses (as
// its Executor) to reach one replica's Execute RPC. Package client goes
// through a Router instead (ProxyClient, for a remote proxyd).
type ExecuteClient struct {
	pool *connPool
}

func NewExecuteClient() *ExecuteClient {
	return &ExecuteClient{pool: newConnPool()}
}

func (c *ExecuteClient) Execute(addr string, cmd rsm.Command) (rsm.Response, error) {
	client, err := c.pool.get(addr)
	if err != nil {
		return rsm.Response{}, err
	}
	args := ExecuteArgs{
		Type:     cmd.Type,
		Request:  cmd.Request,
		ClientId: string(cmd.RequestId.ClientId),
		Index:    cmd.RequestId.Index,
		ReadOnly: cmd.ReadOnly,
	}
	var reply ExecuteReply
	if err := client.Call("Replica.Execute", &args, &reply); err != nil {
		c.pool.drop(addr)
		return rsm.Response{}, err
	}
	return fromExecuteReply(reply), nil
}
