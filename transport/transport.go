// Package transport treats the WebRTC stack as an opaque transport: an
// adapter that turns callback-heavy peer-connection and data-channel
// events into a single tagged Event enum pushed onto a channel, consumed
// by one goroutine per peer. This removes shared-mutable callback
// registers from the protocol logic built on top of it (transfer).
package transport

import "context"

// EventKind discriminates the fields populated on an Event.
type EventKind int

const (
	// IceCandidate carries a new local ICE candidate to be exchanged out of
	// band via the signaling blob.
	IceCandidate EventKind = iota
	// StateChange reports a peer-connection state transition.
	StateChange
	// Opened reports the data channel is open and ready for Send.
	Opened
	// BinaryFrame carries a received binary message (a transfer chunk).
	BinaryFrame
	// TextFrame carries a received text message (a transfer Catalog or
	// Request).
	TextFrame
	// Closed reports the data channel (or connection) has closed.
	Closed
)

func (k EventKind) String() string {
	switch k {
	case IceCandidate:
		return "ice-candidate"
	case StateChange:
		return "state-change"
	case Opened:
		return "opened"
	case BinaryFrame:
		return "binary-frame"
	case TextFrame:
		return "text-frame"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is the tagged union pushed onto a Transport's event channel. Only
// the field(s) matching Kind are meaningful.
type Event struct {
	Kind      EventKind
	Candidate ICECandidate
	State     string
	Data      []byte
	Text      string
}

// ICECandidate is the subset of an RTCIceCandidateInit the signaling blob
// needs to round-trip.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid"`
	SDPMLineIndex int    `json:"sdp_m_line_index"`
}

// SignalingBlob is the decoded form of the opaque connection_details
// base64 string exchanged via the rendezvous API.
type SignalingBlob struct {
	Offer         string         `json:"offer"`
	ICECandidates []ICECandidate `json:"ice_candidates"`
}

// Transport is the opaque collaborator named in the system's scope: create
// an offer/answer, feed it remote candidates, open a single data channel,
// and exchange frames on it. Implementations push every inbound event
// (ICE candidates discovered locally, channel state, received frames) onto
// Events; callers never register their own callbacks.
type Transport interface {
	// Events returns the channel every inbound event is pushed onto. It is
	// closed once the transport is fully torn down.
	Events() <-chan Event

	// Send transmits a binary frame (a chunk).
	Send(data []byte) error
	// SendText transmits a text frame (a Catalog or Request).
	SendText(text string) error

	// BufferedAmount reports the data channel's current outbound buffer,
	// for the sender's backpressure check.
	BufferedAmount() uint64

	// AwaitDrain blocks while BufferedAmount exceeds highWatermark until it
	// falls back to lowWatermark or ctx is done.
	AwaitDrain(ctx context.Context, highWatermark, lowWatermark uint64) error

	// Close tears down the data channel and peer connection.
	Close() error
}
