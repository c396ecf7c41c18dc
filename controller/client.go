package controller

import (
	"context"

	"github.com/distcodep7/suzukikasami/algorithms"
	"github.com/distcodep7/suzukikasami/dsnet"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

// Client calls a remote Controller.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a controller at addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to controller at %s", addr)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Request(ctx context.Context, nodeID int) (*algorithms.RequestResult, error) {
	var out algorithms.RequestResult
	if err := c.invoke(ctx, "Request", nodeRequest{NodeID: nodeID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Enter(ctx context.Context, nodeID int) (*algorithms.EnterResult, error) {
	var out algorithms.EnterResult
	if err := c.invoke(ctx, "Enter", nodeRequest{NodeID: nodeID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Exit(ctx context.Context, nodeID int) (*algorithms.ExitResult, error) {
	var out algorithms.ExitResult
	if err := c.invoke(ctx, "Exit", nodeRequest{NodeID: nodeID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) State(ctx context.Context) (*algorithms.SystemState, error) {
	var out algorithms.SystemState
	if err := c.invoke(ctx, "State", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MessageLog(ctx context.Context) ([]algorithms.MessageLogEntry, error) {
	var out messageLogResponse
	if err := c.invoke(ctx, "MessageLog", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) CSAccessLog(ctx context.Context) ([]algorithms.CSAccessEntry, error) {
	var out csAccessLogResponse
	if err := c.invoke(ctx, "CSAccessLog", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	req, err := dsnet.EncodeStruct(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, resp); err != nil {
		return err
	}
	return dsnet.DecodeStruct(resp, out)
}
