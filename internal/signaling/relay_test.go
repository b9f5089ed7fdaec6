package signaling_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
	"github.com/Tyrowin/gochat-relay/internal/registry"
	"github.com/Tyrowin/gochat-relay/internal/registry/registrytest"
	"github.com/Tyrowin/gochat-relay/internal/signaling"
	"github.com/Tyrowin/gochat-relay/internal/telemetry"
	"github.com/stretchr/testify/require"
)

type peers struct {
	relay *signaling.Relay
	reg   *registry.Registry
	alice *registrytest.Conn
	bob   *registrytest.Conn
}

// newPeers joins alice and bob to thread "7".
func newPeers() peers {
	logger := slog.New(slog.DiscardHandler)
	reg := registry.New(logger)
	p := peers{
		relay: signaling.NewRelay(reg, telemetry.Discard(), logger),
		reg:   reg,
		alice: registrytest.NewConn("alice"),
		bob:   registrytest.NewConn("bob"),
	}
	reg.JoinThread("7", "alice", p.alice)
	reg.JoinThread("7", "bob", p.bob)
	return p
}

var sdp = json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"}`)

func TestRelay_Offer(t *testing.T) {
	t.Run("should deliver the offer verbatim to the recipient only", func(t *testing.T) {
		req := require.New(t)
		p := newPeers()

		ok := p.relay.Offer(context.Background(), &protocol.Offer{Offer: sdp, RecipientID: "bob", SenderID: "alice", ThreadID: "7"})

		req.True(ok)
		req.Empty(p.alice.Frames())
		frames := p.bob.Frames()
		req.Len(frames, 1)

		var got protocol.RelayedOffer
		req.NoError(json.Unmarshal(frames[0], &got))
		req.Equal("offer", got.Type)
		req.Equal(protocol.ID("alice"), got.SenderID)
		req.Equal(protocol.ID("7"), got.ThreadID)
		req.JSONEq(string(sdp), string(got.Offer))
	})

	t.Run("should drop the offer when the recipient is not in the thread", func(t *testing.T) {
		req := require.New(t)
		p := newPeers()
		carol := registrytest.NewConn("carol")
		p.reg.Register("carol", carol)

		ok := p.relay.Offer(context.Background(), &protocol.Offer{Offer: sdp, RecipientID: "carol", SenderID: "alice", ThreadID: "7"})

		req.False(ok)
		req.Empty(carol.Frames())
	})

	t.Run("should drop the offer when the recipient connection closed", func(t *testing.T) {
		p := newPeers()
		p.bob.Close()

		ok := p.relay.Offer(context.Background(), &protocol.Offer{Offer: sdp, RecipientID: "bob", SenderID: "alice", ThreadID: "7"})

		require.False(t, ok)
	})
}

func TestRelay_Answer(t *testing.T) {
	req := require.New(t)
	p := newPeers()
	answer := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)

	// The callee answers with senderId set to the original caller.
	ok := p.relay.Answer(context.Background(), &protocol.Answer{Answer: answer, RecipientID: "bob", SenderID: "alice", ThreadID: "7"})

	req.True(ok)
	req.Empty(p.bob.Frames())
	envelopes := p.alice.Envelopes(t)
	req.Len(envelopes, 1)
	req.Equal("answer", envelopes[0]["type"])
	req.Equal("bob", envelopes[0]["recipientId"])
	req.Equal("7", envelopes[0]["threadId"])
	req.NotContains(envelopes[0], "senderId")
}

func TestRelay_ICECandidate(t *testing.T) {
	req := require.New(t)
	p := newPeers()
	candidate := json.RawMessage(`{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host","sdpMid":"0"}`)

	ok := p.relay.ICECandidate(context.Background(), &protocol.ICECandidate{Candidate: candidate, RecipientID: "bob", SenderID: "alice", ThreadID: "7"})

	req.True(ok)
	envelopes := p.bob.Envelopes(t)
	req.Len(envelopes, 1)
	req.Equal("ice-candidate", envelopes[0]["type"])
	req.Equal("alice", envelopes[0]["senderId"])
	req.Empty(p.alice.Frames())

	req.False(p.relay.ICECandidate(context.Background(), &protocol.ICECandidate{Candidate: candidate, RecipientID: "bob", SenderID: "alice", ThreadID: "8"}))
}

func TestRelay_CallInitiated(t *testing.T) {
	t.Run("should notify both sides with distinct texts", func(t *testing.T) {
		req := require.New(t)
		p := newPeers()

		delivered := p.relay.CallInitiated(context.Background(), &protocol.CallInitiated{SenderID: "alice", RecipientID: "bob", ThreadID: "7"})

		req.Equal(2, delivered)
		caller := p.alice.OfType(t, "call_notification")
		callee := p.bob.OfType(t, "call_notification")
		req.Len(caller, 1)
		req.Len(callee, 1)
		req.Equal("You (alice) have called bob", caller[0]["message"])
		req.Equal("alice has called you (bob)", callee[0]["message"])
		req.Equal("7", callee[0]["threadId"])
	})

	t.Run("should still notify the caller when the recipient is absent", func(t *testing.T) {
		req := require.New(t)
		p := newPeers()

		delivered := p.relay.CallInitiated(context.Background(), &protocol.CallInitiated{SenderID: "alice", RecipientID: "dave", ThreadID: "7"})

		req.Equal(1, delivered)
		req.Len(p.alice.Frames(), 1)
		req.Empty(p.bob.Frames())
	})
}
