package stream

import (
	"context"
	"errors"
)

// LocalID is the sentinel participant id for the host's own feed.
const LocalID = "local"

var (
	ErrMediaAccessDenied    = errors.New("media access denied")
	ErrDeviceUnavailable    = errors.New("media device unavailable")
	ErrScreenShareDenied    = errors.New("screen capture denied")
	ErrPeerConnectionFailed = errors.New("peer connection failed")
	ErrTimeout              = errors.New("media operation timed out")
)

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// MediaTrack is one live audio or video track. The pion-backed
// implementation lives in the platform capture files; tests use fakes.
type MediaTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(bool)
	// OnEnded fires once when the source stops the track on its own, e.g.
	// the user ends a screen capture from the native picker.
	OnEnded(func())
	Stop() error
}

// MediaStream is an exclusively owned bundle of tracks. Whoever holds the
// stream is responsible for stopping every track exactly once.
type MediaStream interface {
	Tracks() []MediaTrack
}

// Constraints selects which kinds of local media to acquire.
type Constraints struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

// Devices is the hardware-facing boundary: camera/microphone and display
// capture. Acquisition failures map onto ErrMediaAccessDenied,
// ErrDeviceUnavailable and ErrScreenShareDenied.
type Devices interface {
	AcquireUserMedia(ctx context.Context, c Constraints) (MediaStream, error)
	AcquireDisplayMedia(ctx context.Context) (MediaStream, error)
}

// ConnState mirrors the peer connection lifecycle.
type ConnState string

const (
	ConnNew          ConnState = "new"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

// Terminal reports whether the state ends the connection for good.
func (s ConnState) Terminal() bool {
	return s == ConnDisconnected || s == ConnFailed || s == ConnClosed
}

// PeerConnection is the negotiation surface the manager drives. Signaling
// payloads are opaque SDP/candidate strings; their relay is the Signaler's
// business.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (sdp string, err error)
	HandleOffer(ctx context.Context, sdp string) (answer string, err error)
	HandleAnswer(sdp string) error
	AddICECandidate(candidate string) error

	OnICECandidate(func(candidate string))
	OnRemoteStream(func(MediaStream))
	OnStateChange(func(ConnState))

	Close() error
}

// Connector builds a peer connection for a remote participant with the
// local stream's tracks already attached. nil local is allowed: the
// connection is then receive-only.
type Connector interface {
	NewConnection(participantID string, local MediaStream) (PeerConnection, error)
}

// Signaler is the only surface the stream package needs from the signaling
// transport. The concrete hub adapter lives in the app wiring — the one
// place that imports both packages.
type Signaler interface {
	Send(channelID string, payload any) error
	Subscribe() (ch chan *Envelope, cancel func())
}

// Envelope is a copy of realtime.Envelope — avoids importing
// internal/realtime.
type Envelope struct {
	Channel string `json:"channel"`
	From    string `json:"from"`
	Payload any    `json:"payload"`
}
