// Package protocol defines the messages exchanged between the devimg CLI
// and the daemon.
//
// Each connection carries one exchange. The client writes a single
// newline-terminated JSON [Envelope] naming a command; the daemon answers
// with one envelope whose command is [CmdOK] or [CmdError]. Payloads are
// command-specific and decoded with [DecodePayload].
//
//	{"command":"build","payload":{"context":"/src/app","config":{...}}}
//	{"command":"ok","payload":{"output":"/src/app/dist/image.tar","env":{...}}}
//
// Errors carry a kind naming the pipeline error class, so [ErrorResult.Err]
// rebuilds an error that matches the same sentinel on the client side.
package protocol
