// Package server is the connection gateway of the relay.
//
// It accepts websocket connections, runs one read and one write pump per
// client, decodes each inbound envelope and dispatches it to the registry,
// presence, typing, message routing, and signaling components. The
// implementation is split into files for configuration, hub lifecycle,
// clients, dispatch, routing, and HTTP handlers.
package server
