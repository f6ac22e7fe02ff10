//go:build linux

package stream

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// NewCaptureStack builds the production Devices (camera/mic/display via
// pion/mediadevices, V4L2 + malgo) and the Connector sharing its codec
// selector, so captured VP8/Opus tracks can be attached to connections
// directly.
func NewCaptureStack(media MediaConfig, ice ICEConfig) (Devices, Connector, error) {
	media = media.withDefaults()
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = media.BitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, fmt.Errorf("opus params: %w", err)
	}

	sel := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	dev := &captureDevices{sel: sel, cfg: media}
	conn := &pionConnector{ice: ice, buildAPI: func(ice ICEConfig) (*webrtc.API, error) {
		me := &webrtc.MediaEngine{}
		sel.Populate(me)
		ir := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
			return nil, err
		}
		return webrtc.NewAPI(
			webrtc.WithMediaEngine(me),
			webrtc.WithInterceptorRegistry(ir),
			webrtc.WithSettingEngine(ice.settingEngine()),
		), nil
	}}
	return dev, conn, nil
}

type captureDevices struct {
	sel *mediadevices.CodecSelector
	cfg MediaConfig
}

func (d *captureDevices) AcquireUserMedia(_ context.Context, c Constraints) (MediaStream, error) {
	if !c.Video && !c.Audio {
		return nil, fmt.Errorf("%w: no media kinds requested", ErrDeviceUnavailable)
	}

	if devices := mediadevices.EnumerateDevices(); len(devices) == 0 {
		log.Printf("STREAM: no media devices found by pion/mediadevices")
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: d.sel}
	if c.Video {
		maxW, maxH := d.cfg.MaxWidth, d.cfg.MaxHeight
		constraints.Video = func(mt *mediadevices.MediaTrackConstraints) {
			// Exclude MJPEG — some cameras expose an MJPEG V4L2 node that
			// produces malformed JPEG frames, which poisons the VP8
			// encoder. Raw formats only.
			mt.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mt.Width = prop.IntRanged{Max: maxW}
			mt.Height = prop.IntRanged{Max: maxH}
		}
	}
	if c.Audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	s, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classifyMediaErr(err)
	}
	return newCaptureStream(s), nil
}

func (d *captureDevices) AcquireDisplayMedia(_ context.Context) (MediaStream, error) {
	s, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: d.sel,
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScreenShareDenied, err)
	}
	return newCaptureStream(s), nil
}

// classifyMediaErr maps driver errors onto the error taxonomy the queue
// rollback path distinguishes.
func classifyMediaErr(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied"):
		return fmt.Errorf("%w: %v", ErrMediaAccessDenied, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}

// captureStream wraps a mediadevices stream as an owned MediaStream.
type captureStream struct {
	mu     sync.Mutex
	tracks []*captureTrack
}

func newCaptureStream(s mediadevices.MediaStream) *captureStream {
	cs := &captureStream{}
	for _, t := range s.GetTracks() {
		ct := &captureTrack{track: t, enabled: 1}
		t.OnEnded(func(err error) {
			if err != nil {
				log.Printf("STREAM: local track ended: %v", err)
			}
			ct.fireEnded()
		})
		cs.tracks = append(cs.tracks, ct)
	}
	return cs
}

func (s *captureStream) Tracks() []MediaTrack {
	s.mu.Lock()
	out := make([]MediaTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	s.mu.Unlock()
	return out
}

// captureTrack adapts a mediadevices track. Enabled is a pause flag, as in
// the browser media model: the encoder keeps running, consumers honor the
// flag.
type captureTrack struct {
	track   mediadevices.Track
	enabled int32

	mu      sync.Mutex
	onEnded func()
	ended   bool
	stopped bool
}

func (t *captureTrack) ID() string { return t.track.ID() }

func (t *captureTrack) Kind() TrackKind {
	if t.track.Kind() == webrtc.RTPCodecTypeAudio {
		return TrackAudio
	}
	return TrackVideo
}

func (t *captureTrack) Enabled() bool { return atomic.LoadInt32(&t.enabled) == 1 }

func (t *captureTrack) SetEnabled(enabled bool) {
	v := int32(0)
	if enabled {
		v = 1
	}
	atomic.StoreInt32(&t.enabled, v)
}

func (t *captureTrack) OnEnded(fn func()) {
	t.mu.Lock()
	already := t.ended
	t.onEnded = fn
	t.mu.Unlock()
	if already && fn != nil {
		fn()
	}
}

func (t *captureTrack) fireEnded() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Stop closes the capture source. Stopping twice is safe; the hardware
// handle is released exactly once.
func (t *captureTrack) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.mu.Unlock()
	return t.track.Close()
}

// RTPTrack exposes the underlying track for PeerConnection.AddTrack.
func (t *captureTrack) RTPTrack() webrtc.TrackLocal { return t.track }
