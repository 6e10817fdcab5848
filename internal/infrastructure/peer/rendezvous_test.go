package peer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"redlive/internal/core/domain"
	"redlive/internal/core/ports"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testUpgrader = websocket.Upgrader{}

// drainSocket keeps the server side alive until the client goes away, so the
// handler returns and the test server can shut down cleanly.
func drainSocket(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// rendezvousServer acknowledges registration and hands the socket to serve.
func rendezvousServer(t *testing.T, serve func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/peerjs", r.URL.Path)
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(wireMessage{Type: wireOpen}))
		serve(conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRendezvousOpenRegistersIdentity(t *testing.T) {
	ids := make(chan string, 1)
	base := rendezvousServer(t, func(conn *websocket.Conn, r *http.Request) {
		ids <- r.URL.Query().Get("id")
		drainSocket(conn)
	})

	rv := NewRendezvous(RendezvousConfig{URL: base, Key: "peerjs"}, zaptest.NewLogger(t))
	defer rv.Close()

	require.NoError(t, rv.Open(context.Background(), "streamer-s1"))
	assert.Equal(t, "streamer-s1", <-ids)
}

func TestRendezvousDeliversInboundSignals(t *testing.T) {
	base := rendezvousServer(t, func(conn *websocket.Conn, r *http.Request) {
		conn.WriteJSON(wireMessage{
			Type: wireOffer,
			Src:  "viewer-1",
			Payload: &wirePayload{
				SDP:          &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
				Type:         "media",
				ConnectionID: "mc_1",
			},
		})
		conn.WriteJSON(wireMessage{
			Type: wireLeave,
			Src:  "viewer-1",
			Payload: &wirePayload{
				Reason: RejectNotBroadcasting,
			},
		})
		drainSocket(conn)
	})

	rv := NewRendezvous(RendezvousConfig{URL: base, Key: "peerjs"}, zaptest.NewLogger(t))
	defer rv.Close()
	require.NoError(t, rv.Open(context.Background(), "streamer-s1"))

	offer := <-rv.Recv()
	assert.Equal(t, domain.PeerID("viewer-1"), offer.From)
	assert.Equal(t, "mc_1", offer.ConnectionID)
	require.NotNil(t, offer.SDP)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.SDP.Type)

	leave := <-rv.Recv()
	assert.Equal(t, RejectNotBroadcasting, leave.Reject)
}

func TestRendezvousSendMapsEnvelopes(t *testing.T) {
	received := make(chan wireMessage, 8)
	base := rendezvousServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			var msg wireMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == wireHeartbeat {
				continue
			}
			received <- msg
		}
	})

	rv := NewRendezvous(RendezvousConfig{URL: base, Key: "peerjs"}, zaptest.NewLogger(t))
	defer rv.Close()
	require.NoError(t, rv.Open(context.Background(), "streamer-s1"))

	require.NoError(t, rv.Send(ports.SignalEnvelope{
		To:           "viewer-1",
		ConnectionID: "mc_1",
		SDP:          &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"},
	}))
	msg := <-received
	assert.Equal(t, wireAnswer, msg.Type)
	assert.Equal(t, "viewer-1", msg.Dst)
	require.NotNil(t, msg.Payload)
	assert.Equal(t, "media", msg.Payload.Type)
	assert.Equal(t, "mc_1", msg.Payload.ConnectionID)

	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host"}
	require.NoError(t, rv.Send(ports.SignalEnvelope{
		To:           "viewer-1",
		ConnectionID: "mc_1",
		Candidate:    &candidate,
	}))
	msg = <-received
	assert.Equal(t, wireCandidate, msg.Type)
	require.NotNil(t, msg.Payload.Candidate)
	assert.Equal(t, candidate.Candidate, msg.Payload.Candidate.Candidate)

	require.NoError(t, rv.Send(ports.SignalEnvelope{
		To:     "viewer-1",
		Reject: RejectNotBroadcasting,
	}))
	msg = <-received
	assert.Equal(t, wireLeave, msg.Type)
	assert.Equal(t, RejectNotBroadcasting, msg.Payload.Reason)
}

func TestRendezvousOpenTimesOutWithoutAck(t *testing.T) {
	// Server upgrades but never acknowledges.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		time.Sleep(time.Second)
	}))
	t.Cleanup(srv.Close)
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	rv := NewRendezvous(RendezvousConfig{URL: base, Key: "peerjs", OpenTimeout: 100 * time.Millisecond}, zaptest.NewLogger(t))
	err := rv.Open(context.Background(), "viewer-1")
	assert.ErrorIs(t, err, domain.ErrRendezvousUnavailable)
}

func TestRendezvousSendAfterClose(t *testing.T) {
	base := rendezvousServer(t, func(conn *websocket.Conn, r *http.Request) {
		drainSocket(conn)
	})

	rv := NewRendezvous(RendezvousConfig{URL: base, Key: "peerjs"}, zaptest.NewLogger(t))
	require.NoError(t, rv.Open(context.Background(), "viewer-1"))
	require.NoError(t, rv.Close())

	err := rv.Send(ports.SignalEnvelope{To: "streamer-s1", Reject: "LEAVE"})
	assert.ErrorIs(t, err, domain.ErrRendezvousUnavailable)
}
