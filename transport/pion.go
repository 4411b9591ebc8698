package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
)

// DefaultSTUNServer matches the teacher's default when no TURN/STUN
// configuration is supplied.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// Peer is a Transport backed by github.com/pion/webrtc/v3. Every
// peer-connection and data-channel callback pushes a tagged Event onto
// events instead of being handled inline, so everything built on top of
// Peer (the transfer package) consumes a single ordered event stream
// rather than registering its own callbacks.
type Peer struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	events chan Event

	// flushCond wakes AwaitDrain callers when the data channel reports its
	// buffered amount has fallen back to the low watermark, the same
	// callback-driven condition-variable pattern the teacher's
	// wormhole.Wormhole.Write uses for its own backpressure.
	flushCond *sync.Cond

	mu     sync.Mutex
	closed bool
}

// NewPeer creates a PeerConnection configured with iceServers (or
// DefaultSTUNServer if empty) and a single negotiated data channel named
// "data" with id 0, matching the one-data-channel-per-connection contract
// this protocol relies on.
func NewPeer(iceServers []webrtc.ICEServer) (*Peer, error) {
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{{URLs: []string{DefaultSTUNServer}}}
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("transport: creating peer connection: %w", err)
	}

	p := &Peer{pc: pc, events: make(chan Event, 64), flushCond: sync.NewCond(&sync.Mutex{})}

	negotiated := true
	id := uint16(0)
	dc, err := pc.CreateDataChannel("data", &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("transport: creating data channel: %w", err)
	}
	p.dc = dc
	p.wire()
	return p, nil
}

func (p *Peer) wire() {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end-of-candidates
		}
		init := c.ToJSON()
		ev := Event{Kind: IceCandidate, Candidate: ICECandidate{Candidate: init.Candidate}}
		if init.SDPMid != nil {
			ev.Candidate.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			ev.Candidate.SDPMLineIndex = int(*init.SDPMLineIndex)
		}
		p.push(ev)
	})
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.push(Event{Kind: StateChange, State: s.String()})
	})
	p.dc.OnOpen(func() {
		// 1 MiB high-watermark / 256 KiB low-watermark, per the transfer
		// protocol's explicit two-watermark backpressure contract.
		p.dc.SetBufferedAmountLowThreshold(256 << 10)
		p.dc.OnBufferedAmountLow(p.flushed)
		p.push(Event{Kind: Opened})
	})
	p.dc.OnClose(func() {
		p.push(Event{Kind: Closed})
	})
	p.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			p.push(Event{Kind: TextFrame, Text: string(msg.Data)})
		} else {
			p.push(Event{Kind: BinaryFrame, Data: msg.Data})
		}
	})
}

func (p *Peer) push(ev Event) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		// The consumer fell behind; drop rather than block a pion callback
		// goroutine indefinitely. Backpressure on the data channel itself
		// (BufferedAmount) is the real flow-control mechanism; this channel
		// is just the event relay.
	}
}

// Events implements Transport.
func (p *Peer) Events() <-chan Event { return p.events }

// Send implements Transport.
func (p *Peer) Send(data []byte) error { return p.dc.Send(data) }

// SendText implements Transport.
func (p *Peer) SendText(text string) error { return p.dc.SendText(text) }

// BufferedAmount implements Transport.
func (p *Peer) BufferedAmount() uint64 { return uint64(p.dc.BufferedAmount()) }

func (p *Peer) flushed() {
	p.flushCond.L.Lock()
	p.flushCond.Broadcast()
	p.flushCond.L.Unlock()
}

// AwaitDrain blocks while BufferedAmount exceeds highWatermark, until it
// falls back to lowWatermark or ctx is done. The sender's backpressure
// contract requires calling this before queuing each chunk once above the
// high-watermark.
func (p *Peer) AwaitDrain(ctx context.Context, highWatermark, lowWatermark uint64) error {
	if p.BufferedAmount() <= highWatermark {
		return nil
	}
	p.dc.SetBufferedAmountLowThreshold(lowWatermark)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.flushed()
		case <-stop:
		}
	}()

	p.flushCond.L.Lock()
	defer p.flushCond.L.Unlock()
	for p.BufferedAmount() > lowWatermark {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.flushCond.Wait()
	}
	return nil
}

// CreateOffer generates and sets the local offer, returning its SDP.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

// CreateAnswer sets remoteOfferSDP as the remote description and generates
// and sets a local answer, returning its SDP.
func (p *Peer) CreateAnswer(remoteOfferSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: remoteOfferSDP}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return "", err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

// SetRemoteAnswer sets remoteAnswerSDP as the remote description, completing
// the Host side of the offer/answer exchange.
func (p *Peer) SetRemoteAnswer(remoteAnswerSDP string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  remoteAnswerSDP,
	})
}

// AddICECandidate feeds in a remote candidate discovered out of band via
// the signaling blob.
func (p *Peer) AddICECandidate(c ICECandidate) error {
	init := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.SDPMid != "" {
		init.SDPMid = &c.SDPMid
	}
	idx := uint16(c.SDPMLineIndex)
	init.SDPMLineIndex = &idx
	return p.pc.AddICECandidate(init)
}

// Close implements Transport.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	close(p.events)
	dcErr := p.dc.Close()
	pcErr := p.pc.Close()
	if dcErr != nil {
		return dcErr
	}
	return pcErr
}

// EncodeSignalingBlob base64-encodes a SignalingBlob for transmission as
// the opaque connection_details field.
func EncodeSignalingBlob(b SignalingBlob) (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodeSignalingBlob decodes connection_details back into a SignalingBlob.
func DecodeSignalingBlob(s string) (SignalingBlob, error) {
	var b SignalingBlob
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return b, fmt.Errorf("transport: decoding signaling blob: %w", err)
	}
	err = json.Unmarshal(data, &b)
	return b, err
}
