package client

import (
	"bufio"
	"context"
	"errors"
	"net"

	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/paths"
	"github.com/cruciblehq/devimg/internal/protocol"
)

var ErrUnavailable = errors.New("daemon unavailable")

// Connects to a daemon socket.
type Client struct {
	socketPath string
}

// Returns a client for the daemon at socketPath. Empty uses the default
// socket.
func New(socketPath string) *Client {
	if socketPath == "" {
		socketPath = paths.Socket()
	}
	return &Client{socketPath: socketPath}
}

// Runs a build on the daemon and waits for it to finish.
//
// Build failures are returned as errors matching the same pipeline
// sentinels the daemon reported.
func (c *Client) Build(ctx context.Context, req *protocol.BuildRequest) (*protocol.BuildResult, error) {
	return call[protocol.BuildResult](ctx, c.socketPath, protocol.CmdBuild, req)
}

// Queries the daemon status.
func (c *Client) Status(ctx context.Context) (*protocol.StatusResult, error) {
	return call[protocol.StatusResult](ctx, c.socketPath, protocol.CmdStatus, nil)
}

// Asks the daemon to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := call[struct{}](ctx, c.socketPath, protocol.CmdShutdown, nil)
	return err
}

// Performs one request-response exchange.
func call[T any](ctx context.Context, socketPath string, cmd protocol.Command, payload any) (*T, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, crex.Wrapf(ErrUnavailable, "%s: %w", socketPath, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	data, err := protocol.Encode(cmd, payload)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, exchangeError(ctx, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, exchangeError(ctx, err)
	}

	env, raw, err := protocol.Decode(line)
	if err != nil {
		return nil, err
	}

	switch env.Command {
	case protocol.CmdOK:
		return protocol.DecodePayload[T](raw)
	case protocol.CmdError:
		res, err := protocol.DecodePayload[protocol.ErrorResult](raw)
		if err != nil {
			return nil, err
		}
		return nil, res.Err()
	default:
		return nil, crex.Wrapf(protocol.ErrProtocol, "unexpected response %q", env.Command)
	}
}

// Prefers the context error when the connection was closed by cancellation.
func exchangeError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return crex.Wrap(ErrUnavailable, err)
}
