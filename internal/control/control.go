// Package control implements the operator-facing Unix-domain-socket
// protocol (spec §6 "External Interfaces — control socket"), replacing the
// ConnectRPC/gRPC server the teacher used: this protocol has no generated
// client stubs in the retrieval pack, and spec §6 independently specifies a
// length-prefixed socket rather than RPC, so it reuses the same bus framing
// as the inter-process pipes (internal/bus) instead of introducing a second
// wire format.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/ldp-project/ldpd/internal/bus"
)

// Request is the decoded TypeControlRequest payload: a command name plus
// opaque JSON arguments, matching the show/reload/fib-couple/log-verbosity
// surface of spec §6.
type Request struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Response is the TypeControlResponse payload.
type Response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler answers one control request. The implementation lives in
// cmd/ldpd's Parent role, which does not hold the Manager/LIB/PWManager
// state of the other two processes.
type Handler func(ctx context.Context, req Request) Response

// Server listens on a Unix socket and dispatches each connection's control
// requests to handler, one request per connection (spec §6: "the control
// socket is request/response, not a persistent session").
type Server struct {
	path    string
	handler Handler
	logger  *slog.Logger
}

func NewServer(path string, handler Handler, logger *slog.Logger) *Server {
	return &Server{path: path, handler: handler, logger: logger.With(slog.String("component", "control"))}
}

// ListenAndServe creates the socket (removing any stale one from an earlier
// run) and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.path)
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", s.path, err)
	}
	defer ln.Close()
	defer os.Remove(s.path)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("control: accept: %w", err)
			}
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	c := bus.NewConn(conn)
	frame, err := c.Recv()
	if err != nil {
		return
	}
	if frame.Type != bus.TypeControlRequest {
		_ = c.Send(bus.TypeControlResponse, encodeResponse(Response{OK: false, Error: "expected control request frame"}))
		return
	}
	var req Request
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		_ = c.Send(bus.TypeControlResponse, encodeResponse(Response{OK: false, Error: err.Error()}))
		return
	}
	resp := s.handler(ctx, req)
	_ = c.Send(bus.TypeControlResponse, encodeResponse(resp))
}

func encodeResponse(r Response) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		b, _ = json.Marshal(Response{OK: false, Error: "internal: marshal response"})
	}
	return b
}

// Client is the ldpctl-side counterpart: one request per connection.
type Client struct {
	path string
}

func NewClient(path string) *Client { return &Client{path: path} }

func (c *Client) Call(cmd string, args any) (Response, error) {
	conn, err := net.Dial("unix", c.path)
	if err != nil {
		return Response{}, fmt.Errorf("control: dial %s: %w", c.path, err)
	}
	defer conn.Close()

	var rawArgs json.RawMessage
	if args != nil {
		rawArgs, err = json.Marshal(args)
		if err != nil {
			return Response{}, fmt.Errorf("control: marshal args: %w", err)
		}
	}
	reqBytes, err := json.Marshal(Request{Command: cmd, Args: rawArgs})
	if err != nil {
		return Response{}, fmt.Errorf("control: marshal request: %w", err)
	}

	bc := bus.NewConn(conn)
	if err := bc.Send(bus.TypeControlRequest, reqBytes); err != nil {
		return Response{}, fmt.Errorf("control: send request: %w", err)
	}
	frame, err := bc.Recv()
	if err != nil {
		return Response{}, fmt.Errorf("control: recv response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(frame.Payload, &resp); err != nil {
		return Response{}, fmt.Errorf("control: unmarshal response: %w", err)
	}
	return resp, nil
}
