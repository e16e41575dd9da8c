package transport

import (
	"fmt"
	"net"
	"net/rpc"

	"github.com/rs/zerolog"

	"github.com/dsyscourse/rsm/proxy"
	"github.com/dsyscourse/rsm/rsm"
)

// ProxyExecuteArgs/ProxyExecuteReply are the net/rpc pair for
// RSM-Proxy.Execute (spec.md §6): clients send a full Command (they own
// RequestId bookkeeping) and get back the committed payload, or an error
// if every replica was unreachable after the router's retry budget.
type ProxyExecuteArgs struct {
	Type     string
	Request  []byte
	ClientId string
	Index    uint64
	ReadOnly bool
}

type ProxyExecuteReply struct {
	Result []byte
}

// ProxyServer exposes one proxy.Router's Execute as an RSM-Proxy.Execute
// net/rpc method, the "thin forwarder" of spec.md §6.
type ProxyServer struct {
	router *proxy.Router
}

// NewProxyServer wraps router for RPC serving.
func NewProxyServer(router *proxy.Router) *ProxyServer {
	return &ProxyServer{router: router}
}

// ListenAndServeProxy registers s on a fresh net/rpc server and serves it
// on addr, blocking until the listener errors.
func ListenAndServeProxy(addr string, s *ProxyServer, logger zerolog.Logger) error {
	server := rpc.NewServer()
	if err := server.RegisterName("RSM-Proxy", s); err != nil {
		return fmt.Errorf("transport: registering proxy RPC service: %w", err)
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listening on %s: %w", addr, err)
	}
	logger.Info().Str("addr", addr).Msg("proxy rpc server listening")
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go server.ServeConn(conn)
	}
}

func (s *ProxyServer) Execute(args *ProxyExecuteArgs, reply *ProxyExecuteReply) error {
	cmd := rsm.Command{
		Type:    args.Type,
		Request: args.Request,
		RequestId: rsm.RequestId{
			ClientId: rsm.ClientId(args.ClientId),
			Index:    args.Index,
		},
		ReadOnly: args.ReadOnly,
	}
	resp, err := s.router.Execute(cmd)
	if err != nil {
		return err
	}
	reply.Result = resp.Result
	return nil
}

// ProxyClient implements package client's Router interface by dialing a
// remote proxyd over net/rpc, for client programs that run outside the
// replica cluster's process group.
type ProxyClient struct {
	addr string
	pool *connPool
}

// NewProxyClient targets the RSM-Proxy.Execute RPC service at addr.
func NewProxyClient(addr string) *ProxyClient {
	return &ProxyClient{addr: addr, pool: newConnPool()}
}

func (c *ProxyClient) Execute(cmd rsm.Command) (rsm.Response, error) {
	client, err := c.pool.get(c.addr)
	if err != nil {
		return rsm.Response{}, err
	}
	args := ProxyExecuteArgs{
		Type:     cmd.Type,
		Request:  cmd.Request,
		ClientId: string(cmd.RequestId.ClientId),
		Index:    cmd.RequestId.Index,
		ReadOnly: cmd.ReadOnly,
	}
	var reply ProxyExecuteReply
	if err := client.Call("RSM-Proxy.Execute", &args, &reply); err != nil {
		c.pool.drop(c.addr)
		return rsm.Response{}, err
	}
	return rsm.Response{Kind: rsm.Ack, Result: reply.Result}, nil
}
