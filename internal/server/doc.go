// Package server implements the devimg daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands
// from the devimg CLI. Each connection carries a single request-response
// exchange: the client sends a newline-delimited JSON envelope, the
// server dispatches the command, and writes the result back before
// closing the connection. A client that disconnects mid-build cancels it.
//
// The daemon owns one build engine and one layer cache index for its
// lifetime, so consecutive builds share pulled base images and cached
// layers. Builds for different targets run concurrently; builds for the
// same target are serialized by the build package's target lock.
//
// Example usage:
//
//	srv, err := server.New(server.Config{Build: cfg})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
package server
