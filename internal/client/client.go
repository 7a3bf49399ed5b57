// Package client submits authorization requests to a remote jnlpguard
// broker.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/jnlpguard/internal/broker"
	"github.com/ppiankov/jnlpguard/internal/model"
	"github.com/ppiankov/jnlpguard/internal/remember"
	"github.com/ppiankov/jnlpguard/internal/server"
)

// DefaultTimeout bounds the management calls. Submit waits for a human
// and is bounded only by the caller's context.
const DefaultTimeout = 5 * time.Second

// Client connects to a jnlpguard broker service.
type Client struct {
	conn *grpc.ClientConn
}

// New creates a gRPC client for the given address. The connection is
// established lazily on first call.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Submit sends req to the remote broker and waits for its decision.
// Fail-closed: any RPC error resolves to the kind's default negative.
func (c *Client) Submit(ctx context.Context, req *model.Request) broker.Result {
	failed := func(reason string) broker.Result {
		return broker.Result{
			RequestID:  req.ID(),
			Kind:       req.Kind(),
			Decision:   model.DefaultNegative(req.Kind()),
			ResolvedBy: model.SourceFailure,
			Reason:     reason,
		}
	}

	in, err := server.RequestToStruct(req)
	if err != nil {
		return failed(fmt.Sprintf("encode request: %v", err))
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, server.MethodSubmit, in, out); err != nil {
		if status.Code(err) == codes.ResourceExhausted {
			return failed("broker refused: " + status.Convert(err).Message())
		}
		// Fail-closed: unreachable broker → refuse
		return failed(fmt.Sprintf("broker unreachable: %v", err))
	}
	r, err := server.StructToResult(out)
	if err != nil {
		return failed(fmt.Sprintf("decode decision: %v", err))
	}
	if r.Kind != req.Kind() {
		return failed(fmt.Sprintf("broker answered %s for a %s request", r.Kind, req.Kind()))
	}
	return r
}

// ListRemembered returns remembered answers, optionally for one kind.
func (c *Client) ListRemembered(kind model.Kind) ([]remember.CachedDecision, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	in, err := structpb.NewStruct(map[string]any{"kind": string(kind)})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, server.MethodListRemembered, in, out); err != nil {
		return nil, err
	}
	return server.StructToEntries(out)
}

// Forget removes remembered answers for key at scope; an empty kind
// removes every kind. It returns how many were removed.
func (c *Client) Forget(kind model.Kind, scope model.RememberScope, key string) (int, error) {
	return c.forget(map[string]any{
		"kind":  string(kind),
		"scope": scope.String(),
		"key":   key,
	})
}

// Clear removes every remembered answer on the remote broker.
func (c *Client) Clear() (int, error) {
	return c.forget(map[string]any{"all": true})
}

func (c *Client) forget(fields map[string]any) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	in, err := structpb.NewStruct(fields)
	if err != nil {
		return 0, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, server.MethodForget, in, out); err != nil {
		return 0, err
	}
	return int(out.GetFields()["removed"].GetNumberValue()), nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
