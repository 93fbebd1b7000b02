package server

import (
	"context"

	"connectrpc.com/connect"

	"github.com/chazu/flux/wire"
)

// Client calls a Flux server.
type Client struct {
	compile *connect.Client[wire.CompileRequest, wire.CompileResponse]
	execute *connect.Client[wire.ExecuteRequest, wire.ExecuteResponse]
	history *connect.Client[wire.HistoryRequest, wire.HistoryResponse]
}

// NewClient returns a client for the server at baseURL, such as
// "http://localhost:7070".
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	codec := connect.WithCodec(wire.Codec{})
	return &Client{
		compile: connect.NewClient[wire.CompileRequest, wire.CompileResponse](httpClient, baseURL+CompileProcedure, codec),
		execute: connect.NewClient[wire.ExecuteRequest, wire.ExecuteResponse](httpClient, baseURL+ExecuteProcedure, codec),
		history: connect.NewClient[wire.HistoryRequest, wire.HistoryResponse](httpClient, baseURL+HistoryProcedure, codec),
	}
}

// Compile compiles source on the server.
func (c *Client) Compile(ctx context.Context, req *wire.CompileRequest) (*wire.CompileResponse, error) {
	resp, err := c.compile.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Execute runs a program on the server.
func (c *Client) Execute(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResponse, error) {
	resp, err := c.execute.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// History lists recent runs on the server.
func (c *Client) History(ctx context.Context, limit int) (*wire.HistoryResponse, error) {
	resp, err := c.history.CallUnary(ctx, connect.NewRequest(&wire.HistoryRequest{Limit: limit}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
