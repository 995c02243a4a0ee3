// Package client talks to the devimg daemon over its Unix socket.
//
// Each call opens a connection, writes one request envelope, and reads one
// response. Cancelling the context closes the connection, which the daemon
// treats as a request to cancel the build in progress.
//
//	c := client.New("")
//	res, err := c.Build(ctx, &protocol.BuildRequest{Context: dir, Config: cfg})
package client
