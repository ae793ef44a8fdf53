package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/lechuhuuha/event_relay/internal/rpc"
	"github.com/lechuhuuha/event_relay/util"
)

// SendOptions describes one SendEvent call made from the CLI.
type SendOptions struct {
	Addr    string
	Payload []byte
	Key     string
	Timeout time.Duration
}

// SendResult is what the relay answered.
type SendResult struct {
	Success bool
	Code    string
	Message string
}

// SendEvent dials the relay and submits one event.
func SendEvent(ctx context.Context, opts SendOptions, dialOpts ...grpc.DialOption) (SendResult, error) {
	if opts.Addr == "" {
		return SendResult{}, errors.New("relay address is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if len(dialOpts) == 0 {
		dialOpts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(opts.Addr, dialOpts...)
	if err != nil {
		return SendResult{}, fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if opts.Key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, util.DefaultPartitionKeyHeader, opts.Key)
	}

	resp, err := rpc.NewIngestionClient(conn).SendEvent(ctx, &rpc.EventRequest{Value: opts.Payload})
	if err != nil {
		st := status.Convert(err)
		return SendResult{Code: st.Code().String(), Message: st.Message()}, nil
	}
	return SendResult{Success: resp.GetValue(), Code: "OK"}, nil
}
