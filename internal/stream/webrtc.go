package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// keyframeInterval is how often a PLI is sent for each inbound video track
// so a guest joining mid-stream gets a decodable picture quickly.
const keyframeInterval = 3 * time.Second

// ICEConfig carries the transport knobs read from the config file.
type ICEConfig struct {
	STUNURLs []string
	// Generous ICE timeouts so a brief relay/NAT hiccup does not
	// immediately end a live segment.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

// DefaultICE is used when the config file leaves the section empty.
func DefaultICE() ICEConfig {
	return ICEConfig{
		STUNURLs:            []string{"stun:stun.l.google.com:19302"},
		DisconnectedTimeout: 30 * time.Second,
		FailedTimeout:       120 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

func (c ICEConfig) settingEngine() webrtc.SettingEngine {
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(c.DisconnectedTimeout, c.FailedTimeout, c.KeepAliveInterval)
	return se
}

func (c ICEConfig) configuration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: c.STUNURLs}},
	}
}

// pionConnector builds pion peer connections. buildAPI is the platform
// hook: on Linux it populates the media engine from the capture codec
// selector so mediadevices tracks can be attached.
type pionConnector struct {
	ice      ICEConfig
	buildAPI func(ice ICEConfig) (*webrtc.API, error)
}

// NewConnector returns a Connector over plain pion defaults, for builds
// without native capture. NewCaptureStack (platform files) returns the
// paired Devices/Connector used in production.
func NewConnector(ice ICEConfig) Connector {
	return &pionConnector{ice: ice, buildAPI: defaultAPI}
}

func defaultAPI(ice ICEConfig) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithSettingEngine(ice.settingEngine()),
	), nil
}

func (c *pionConnector) NewConnection(participantID string, local MediaStream) (PeerConnection, error) {
	api, err := c.buildAPI(c.ice)
	if err != nil {
		return nil, fmt.Errorf("webrtc api: %w", err)
	}
	pc, err := api.NewPeerConnection(c.ice.configuration())
	if err != nil {
		return nil, fmt.Errorf("peer connection: %w", err)
	}

	conn := &pionConn{id: participantID, pc: pc, closed: make(chan struct{})}

	attached := 0
	if local != nil {
		for _, t := range local.Tracks() {
			lt, ok := t.(localTrack)
			if !ok {
				continue
			}
			if _, err := pc.AddTrack(lt.RTPTrack()); err != nil {
				log.Printf("STREAM [%s]: add track: %v", participantID, err)
				continue
			}
			attached++
		}
	}
	if attached == 0 {
		// No sendable media — recvonly transceivers keep the SDP valid so
		// negotiation still produces usable m-lines.
		addRecvOnlyTransceivers(participantID, pc)
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		b, err := json.Marshal(cand.ToJSON())
		if err != nil {
			return
		}
		conn.fireCandidate(string(b))
	})

	pc.OnTrack(func(rt *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		conn.handleRemoteTrack(rt)
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		conn.fireState(mapConnState(st))
	})

	return conn, nil
}

// localTrack is implemented by capture tracks that can hand pion an RTP
// track to send.
type localTrack interface {
	RTPTrack() webrtc.TrackLocal
}

// addRecvOnlyTransceivers adds recvonly transceivers for video and audio so
// CreateOffer/CreateAnswer always produces valid m-lines with ICE
// credentials.
func addRecvOnlyTransceivers(participantID string, pc *webrtc.PeerConnection) {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Printf("STREAM [%s]: AddTransceiver(%s) error: %v", participantID, kind, err)
		}
	}
}

// pionConn adapts *webrtc.PeerConnection to the PeerConnection boundary.
type pionConn struct {
	id string
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	onCandidate func(string)
	onRemote    func(MediaStream)
	onState     func(ConnState)
	remote      *remoteStream

	closed    chan struct{}
	closeOnce sync.Once
}

func (c *pionConn) CreateOffer(ctx context.Context) (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (c *pionConn) HandleOffer(ctx context.Context, sdp string) (string, error) {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (c *pionConn) HandleAnswer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (c *pionConn) AddICECandidate(candidate string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		// Bare candidate string from a minimal client.
		init = webrtc.ICECandidateInit{Candidate: candidate}
	}
	return c.pc.AddICECandidate(init)
}

func (c *pionConn) OnICECandidate(fn func(string)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *pionConn) OnRemoteStream(fn func(MediaStream)) {
	c.mu.Lock()
	c.onRemote = fn
	c.mu.Unlock()
}

func (c *pionConn) OnStateChange(fn func(ConnState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *pionConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.pc.Close()
}

func (c *pionConn) fireCandidate(cand string) {
	c.mu.Lock()
	fn := c.onCandidate
	c.mu.Unlock()
	if fn != nil {
		fn(cand)
	}
}

func (c *pionConn) fireState(st ConnState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// handleRemoteTrack registers an inbound track, drains its RTP, and keeps
// video decodable with periodic PLI requests. The first track announces
// the remote stream to the manager.
func (c *pionConn) handleRemoteTrack(rt *webrtc.TrackRemote) {
	t := &remoteTrack{track: rt, enabled: 1}

	c.mu.Lock()
	first := c.remote == nil
	if first {
		c.remote = &remoteStream{}
	}
	c.remote.add(t)
	stream := c.remote
	fn := c.onRemote
	c.mu.Unlock()

	if rt.Kind() == webrtc.RTPCodecTypeVideo {
		go c.pliLoop(rt)
	}
	go t.drain()

	log.Printf("STREAM [%s]: remote %s track %s", c.id, rt.Kind(), rt.ID())
	if first && fn != nil {
		fn(stream)
	}
}

func (c *pionConn) pliLoop(rt *webrtc.TrackRemote) {
	ticker := time.NewTicker(keyframeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			err := c.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(rt.SSRC())}})
			if err != nil {
				return
			}
		}
	}
}

func mapConnState(st webrtc.PeerConnectionState) ConnState {
	switch st {
	case webrtc.PeerConnectionStateNew:
		return ConnNew
	case webrtc.PeerConnectionStateConnecting:
		return ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnFailed
	default:
		return ConnClosed
	}
}

// remoteStream collects the tracks of one inbound feed.
type remoteStream struct {
	mu     sync.Mutex
	tracks []*remoteTrack
}

func (s *remoteStream) add(t *remoteTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

func (s *remoteStream) Tracks() []MediaTrack {
	s.mu.Lock()
	out := make([]MediaTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	s.mu.Unlock()
	return out
}

// remoteTrack wraps an inbound pion track. A remote source cannot be
// force-closed from this side; Stop marks it disabled and the drain loop
// exits when the connection closes.
type remoteTrack struct {
	track   *webrtc.TrackRemote
	enabled int32
	packets uint64
	bytes   uint64

	mu      sync.Mutex
	onEnded func()
	ended   bool
}

func (t *remoteTrack) ID() string { return t.track.ID() }

func (t *remoteTrack) Kind() TrackKind {
	if t.track.Kind() == webrtc.RTPCodecTypeAudio {
		return TrackAudio
	}
	return TrackVideo
}

func (t *remoteTrack) Enabled() bool { return atomic.LoadInt32(&t.enabled) == 1 }

func (t *remoteTrack) SetEnabled(enabled bool) {
	v := int32(0)
	if enabled {
		v = 1
	}
	atomic.StoreInt32(&t.enabled, v)
}

func (t *remoteTrack) OnEnded(fn func()) {
	t.mu.Lock()
	already := t.ended
	t.onEnded = fn
	t.mu.Unlock()
	if already && fn != nil {
		fn()
	}
}

func (t *remoteTrack) Stop() error {
	t.SetEnabled(false)
	return nil
}

func (t *remoteTrack) drain() {
	var pkt *rtp.Packet
	var err error
	for {
		pkt, _, err = t.track.ReadRTP()
		if err != nil {
			break
		}
		atomic.AddUint64(&t.packets, 1)
		atomic.AddUint64(&t.bytes, uint64(len(pkt.Payload)))
	}
	t.mu.Lock()
	t.ended = true
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Stats reports packets and payload bytes received so far.
func (t *remoteTrack) Stats() (packets, bytes uint64) {
	return atomic.LoadUint64(&t.packets), atomic.LoadUint64(&t.bytes)
}
