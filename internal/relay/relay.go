// Package relay implements a single-publisher WebRTC forwarding server: one
// local H.264 RTP stream (from internal/rtppay) fanned out to any number of
// browser subscribers, plus an upstream DataChannel carrying HID input
// reports, grounded on webrtc/sfu.go's peer/room/server hierarchy, narrowed
// from its multi-room multi-publisher design to this module's one-stream
// broadcast model.
package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/kvmpipe/kvmpipe/internal/klog"
)

var log = klog.New("Relay")

// InputHandler is invoked with the decoded bytes of every "input"
// DataChannel message received from a subscriber, ahead of
// hid.InputTransport.ParseReports.
type InputHandler func(data []byte)

// KeyframeRequest is invoked when any subscriber's PeerConnection signals
// packet loss (PLI) or requests a full intra refresh (FIR), so the caller
// can force the encoder to emit a keyframe on its next Encode call.
type KeyframeRequest func()

// Server owns one local H264 video track and fans it out to every
// connected subscriber, grounded on webrtc/sfu.go's newSFUAPI +
// TrackLocalStaticRTP publish path.
type Server struct {
	api   *webrtc.API
	track *webrtc.TrackLocalStaticRTP

	onInput     InputHandler
	onKeyframe  KeyframeRequest
	iceServers  []webrtc.ICEServer

	mu          sync.Mutex
	subscribers map[string]*subscriber
}

type subscriber struct {
	id     string
	pc     *webrtc.PeerConnection
	sender *webrtc.RTPSender
}

// NewServer constructs a relay ready to accept subscriber offers. iceServers
// may be nil to fall back to public STUN only, matching sfuIceServers.
func NewServer(onInput InputHandler, onKeyframe KeyframeRequest, iceServers []webrtc.ICEServer) (*Server, error) {
	api, err := newRelayAPI()
	if err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		"video", "kvmpipe",
	)
	if err != nil {
		return nil, fmt.Errorf("create local video track: %w", err)
	}

	if iceServers == nil {
		iceServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}

	return &Server{
		api:         api,
		track:       track,
		onInput:     onInput,
		onKeyframe:  onKeyframe,
		iceServers:  iceServers,
		subscribers: make(map[string]*subscriber),
	}, nil
}

// newRelayAPI registers only H264 video (with NACK/PLI/REMB feedback), with
// no audio codec, plus the default interceptor set (NACK generator/responder,
// PLI), matching newSFUAPI in webrtc/sfu.go but scoped to one stream.
func newRelayAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: []webrtc.RTCPFeedback{{Type: "nack"}, {Type: "nack", Parameter: "pli"}, {Type: "goog-remb"}},
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register H264 codec: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)), nil
}

// PushRTP writes one payloaded RTP packet to every connected subscriber via
// the shared local track.
func (s *Server) PushRTP(pkt *rtp.Packet) error {
	return s.track.WriteRTP(pkt)
}

// HandleOffer answers a subscriber's SDP offer, completes (non-trickle) ICE
// gathering, and returns the answer to relay back over the signalling
// channel.
func (s *Server) HandleOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	pc, err := s.api.NewPeerConnection(webrtc.Configuration{ICEServers: s.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	sender, err := pc.AddTrack(s.track)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("add track: %w", err)
	}

	id := uuid.NewString()
	sub := &subscriber{id: id, pc: pc, sender: sender}

	s.mu.Lock()
	s.subscribers[id] = sub
	s.mu.Unlock()

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info("subscriber %s connection state: %s", id, state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			go s.burstKeyframe(3, 200*time.Millisecond)
		case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			s.removeSubscriber(id)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "input" {
			return
		}
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if s.onInput != nil {
				s.onInput(msg.Data)
			}
		})
	})

	go s.readRTCP(sub)

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	return pc.LocalDescription(), nil
}

// readRTCP drains the sender's RTCP stream, forwarding PLI/FIR as a
// keyframe request, matching requestKeyframePLI's consumer side in
// webrtc/sfu.go.
func (s *Server) readRTCP(sub *subscriber) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sub.sender.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				log.Info("subscriber %s requested keyframe", sub.id)
				if s.onKeyframe != nil {
					s.onKeyframe()
				}
			}
		}
	}
}

func (s *Server) removeSubscriber(id string) {
	s.mu.Lock()
	sub, ok := s.subscribers[id]
	if ok {
		delete(s.subscribers, id)
	}
	s.mu.Unlock()
	if ok {
		_ = sub.pc.Close()
	}
}

// SubscriberCount returns the number of currently connected subscribers.
func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// Close tears down every subscriber connection.
func (s *Server) Close() {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subscribers = make(map[string]*subscriber)
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.pc.Close()
	}
}

// burstKeyframe requests several PLIs in quick succession right after a
// subscriber connects, since the first GOP the sender forwards may already
// be mid-stream, matching burstKeyframes in webrtc/sfu.go.
func (s *Server) burstKeyframe(count int, spacing time.Duration) {
	for i := 0; i < count; i++ {
		if s.onKeyframe != nil {
			s.onKeyframe()
		}
		time.Sleep(spacing)
	}
}
