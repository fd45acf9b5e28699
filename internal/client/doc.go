// Package client is the caller-facing side of the signal-cli transport.
//
// signal-cli can hold only one conversation at a time, so every operation
// that touches the transport (send, receive, identity listing, trust)
// acquires the same gate, unconditionally, for its whole duration. A send
// with receipt verification keeps the gate through the entire
// send-then-poll sequence so no other operation can consume the receipt it
// is waiting for.
package client
