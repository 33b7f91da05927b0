package webrtc

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

var errNoTrack = errors.New("no preview track")

// Config for preview sessions
type Config struct {
	ICEServers []string // STUN/TURN server URLs
}

// DefaultConfig returns a default WebRTC configuration
func DefaultConfig() Config {
	return Config{
		ICEServers: []string{
			"stun:stun.l.google.com:19302",
		},
	}
}

func (c Config) configuration() webrtc.Configuration {
	config := webrtc.Configuration{}
	for _, url := range c.ICEServers {
		if url == "" {
			continue
		}
		config.ICEServers = append(config.ICEServers, webrtc.ICEServer{URLs: []string{url}})
	}
	return config
}

// Session is one console's view of the tracking camera
type Session struct {
	pc     *webrtc.PeerConnection
	logger *logrus.Entry

	mu     sync.Mutex
	track  *webrtc.TrackLocalStaticRTP
	closed bool
}

// NewSession creates a peer connection. onICE receives local candidates.
func NewSession(cfg Config, onICE func(webrtc.ICECandidateInit), logger *logrus.Entry) (*Session, error) {
	pc, err := webrtc.NewPeerConnection(cfg.configuration())
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Session{pc: pc, logger: logger}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && onICE != nil {
			onICE(c.ToJSON())
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.WithField("state", state.String()).Debug("Preview connection state")
	})

	return s, nil
}

// AddH264Track adds the send-only camera track
func (s *Session) AddH264Track() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"video",
		"pantilt-camera",
	)
	if err != nil {
		return fmt.Errorf("failed to create video track: %w", err)
	}

	if _, err := s.pc.AddTrack(track); err != nil {
		return fmt.Errorf("failed to add video track: %w", err)
	}
	s.track = track
	return nil
}

// CreateOffer creates the local SDP offer once ICE gathering completes
func (s *Session) CreateOffer() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	return s.pc.LocalDescription().SDP, nil
}

// SetAnswer sets the remote SDP answer
func (s *Session) SetAnswer(sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// AddICECandidate adds a remote ICE candidate
func (s *Session) AddICECandidate(candidate string, sdpMid string, sdpMLineIndex uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ice := webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &sdpMLineIndex,
	}
	if err := s.pc.AddICECandidate(ice); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// Forward copies marshalled RTP packets onto the track until packets is
// closed, stop fires or the track stops accepting writes.
func (s *Session) Forward(packets <-chan []byte, stop <-chan struct{}) error {
	s.mu.Lock()
	track := s.track
	s.mu.Unlock()
	if track == nil {
		return errNoTrack
	}

	for {
		select {
		case <-stop:
			return nil
		case packet, ok := <-packets:
			if !ok {
				return nil
			}
			if _, err := track.Write(packet); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					return nil
				}
				return err
			}
		}
	}
}

// Close closes the peer connection
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.pc.Close()
}
