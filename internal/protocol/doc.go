// Package protocol defines the JSON envelopes exchanged with websocket
// clients: the inbound tagged union decoded from each frame and the
// outbound envelopes written back by the relay components.
package protocol
