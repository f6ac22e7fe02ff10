package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    TrackKind
	enabled bool
	stopped bool
	onEnded func()
}

func newFakeTrack(id string, kind TrackKind) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string      { return t.id }
func (t *fakeTrack) Kind() TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *fakeTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTrack) fireEnded() {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeStream struct {
	tracks []MediaTrack
}

func (s *fakeStream) Tracks() []MediaTrack { return s.tracks }

func camMicStream() (*fakeStream, *fakeTrack, *fakeTrack) {
	video := newFakeTrack("cam", TrackVideo)
	audio := newFakeTrack("mic", TrackAudio)
	return &fakeStream{tracks: []MediaTrack{video, audio}}, video, audio
}

type fakeDevices struct {
	mu          sync.Mutex
	userStreams []*fakeStream
	userErr     error
	dispStreams []*fakeStream
	dispErr     error
	dispDelay   time.Duration
}

func (d *fakeDevices) AcquireUserMedia(ctx context.Context, c Constraints) (MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.userErr != nil {
		return nil, d.userErr
	}
	if len(d.userStreams) == 0 {
		return nil, ErrDeviceUnavailable
	}
	s := d.userStreams[0]
	d.userStreams = d.userStreams[1:]
	return s, nil
}

func (d *fakeDevices) AcquireDisplayMedia(ctx context.Context) (MediaStream, error) {
	d.mu.Lock()
	delay := d.dispDelay
	d.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dispErr != nil {
		return nil, d.dispErr
	}
	s := d.dispStreams[0]
	d.dispStreams = d.dispStreams[1:]
	return s, nil
}

type fakeConn struct {
	mu       sync.Mutex
	closed   bool
	answer   string
	onState  func(ConnState)
	onStream func(MediaStream)
	onICE    func(string)
}

func (c *fakeConn) CreateOffer(ctx context.Context) (string, error) { return "offer-sdp", nil }
func (c *fakeConn) HandleOffer(ctx context.Context, sdp string) (string, error) {
	return "answer-sdp", nil
}

func (c *fakeConn) HandleAnswer(sdp string) error {
	c.mu.Lock()
	c.answer = sdp
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) gotAnswer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answer
}

func (c *fakeConn) AddICECandidate(cand string) error  { return nil }
func (c *fakeConn) OnICECandidate(fn func(string))     { c.mu.Lock(); c.onICE = fn; c.mu.Unlock() }
func (c *fakeConn) OnRemoteStream(fn func(MediaStream)) {
	c.mu.Lock()
	c.onStream = fn
	c.mu.Unlock()
}
func (c *fakeConn) OnStateChange(fn func(ConnState)) { c.mu.Lock(); c.onState = fn; c.mu.Unlock() }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) fireState(st ConnState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

type fakeConnector struct {
	mu      sync.Mutex
	conns   map[string]*fakeConn
	dialErr error
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{conns: make(map[string]*fakeConn)}
}

func (f *fakeConnector) NewConnection(id string, local MediaStream) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	c := &fakeConn{}
	f.conns[id] = c
	return c, nil
}

func (f *fakeConnector) conn(id string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[id]
}

type sentMsg struct {
	channel string
	payload map[string]any
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []sentMsg
	in   chan *Envelope
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{in: make(chan *Envelope, 16)}
}

func (f *fakeSignaler) Send(channelID string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, _ := payload.(map[string]any)
	f.sent = append(f.sent, sentMsg{channel: channelID, payload: p})
	return nil
}

func (f *fakeSignaler) Subscribe() (chan *Envelope, func()) {
	return f.in, func() {}
}

func (f *fakeSignaler) messages() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMsg, len(f.sent))
	copy(out, f.sent)
	return out
}

func hostManager(t *testing.T, dev *fakeDevices, conn *fakeConnector, sig Signaler) *Manager {
	t.Helper()
	m := NewManager(Options{
		Devices:   dev,
		Connector: conn,
		Signaler:  sig,
		HostMode:  true,
		HostName:  "Host",
		Initiator: true,
		Timeout:   200 * time.Millisecond,
	})
	t.Cleanup(m.Close)
	return m
}

func TestStartLocalStreamRegistersHost(t *testing.T) {
	s, _, _ := camMicStream()
	dev := &fakeDevices{userStreams: []*fakeStream{s}}
	m := hostManager(t, dev, newFakeConnector(), nil)

	require.NoError(t, m.StartLocalStream(context.Background(), Constraints{Video: true, Audio: true}))
	assert.True(t, m.Streaming())

	ps := m.Participants()
	require.Len(t, ps, 1)
	assert.Equal(t, LocalID, ps[0].ID)
	assert.True(t, ps[0].IsHost)
	assert.True(t, ps[0].HasMedia)

	// Second start is a no-op.
	require.NoError(t, m.StartLocalStream(context.Background(), Constraints{Video: true, Audio: true}))
	assert.Len(t, m.Participants(), 1)
}

func TestStartLocalStreamPropagatesDeviceError(t *testing.T) {
	dev := &fakeDevices{userErr: ErrMediaAccessDenied}
	m := hostManager(t, dev, newFakeConnector(), nil)

	err := m.StartLocalStream(context.Background(), Constraints{Video: true})
	assert.ErrorIs(t, err, ErrMediaAccessDenied)
	assert.False(t, m.Streaming())
}

func TestStopLocalStreamStopsTracksAndIsIdempotent(t *testing.T) {
	s, video, audio := camMicStream()
	dev := &fakeDevices{userStreams: []*fakeStream{s}}
	m := hostManager(t, dev, newFakeConnector(), nil)

	require.NoError(t, m.StartLocalStream(context.Background(), Constraints{Video: true, Audio: true}))
	m.StopLocalStream()

	assert.True(t, video.isStopped())
	assert.True(t, audio.isStopped())
	assert.False(t, m.Streaming())
	assert.Empty(t, m.Participants())

	m.StopLocalStream()
	assert.False(t, m.Streaming())
}

func TestAddParticipantSendsOffer(t *testing.T) {
	s, _, _ := camMicStream()
	dev := &fakeDevices{userStreams: []*fakeStream{s}}
	conns := newFakeConnector()
	sig := newFakeSignaler()
	m := hostManager(t, dev, conns, sig)

	require.NoError(t, m.StartLocalStream(context.Background(), Constraints{Video: true, Audio: true}))

	v, err := m.AddParticipant(context.Background(), "caller-1", "Sam", false)
	require.NoError(t, err)
	assert.Equal(t, "caller-1", v.ID)

	msgs := sig.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "caller-1", msgs[0].channel)
	assert.Equal(t, "offer", msgs[0].payload["type"])
	assert.Equal(t, "offer-sdp", msgs[0].payload["sdp"])

	// Adding the same id again returns the existing entry, no new offer.
	_, err = m.AddParticipant(context.Background(), "caller-1", "Sam", false)
	require.NoError(t, err)
	assert.Len(t, sig.messages(), 1)
}

func TestRemoveParticipantIdempotent(t *testing.T) {
	conns := newFakeConnector()
	sig := newFakeSignaler()
	m := hostManager(t, &fakeDevices{}, conns, sig)

	_, err := m.AddParticipant(context.Background(), "caller-1", "Sam", false)
	require.NoError(t, err)

	require.NoError(t, m.RemoveParticipant("caller-1"))
	assert.True(t, conns.conn("caller-1").isClosed())

	require.NoError(t, m.RemoveParticipant("caller-1"))
	require.NoError(t, m.RemoveParticipant("never-existed"))
}

func TestTerminalStateRemovesParticipant(t *testing.T) {
	conns := newFakeConnector()
	sig := newFakeSignaler()
	m := hostManager(t, &fakeDevices{}, conns, sig)

	var goneMu sync.Mutex
	var gone []string
	m.OnParticipantGone(func(id, reason string) {
		goneMu.Lock()
		gone = append(gone, id+"/"+reason)
		goneMu.Unlock()
	})

	_, err := m.AddParticipant(context.Background(), "caller-1", "Sam", false)
	require.NoError(t, err)

	conns.conn("caller-1").fireState(ConnFailed)

	require.Eventually(t, func() bool {
		return len(m.Participants()) == 0
	}, time.Second, 10*time.Millisecond)

	goneMu.Lock()
	defer goneMu.Unlock()
	assert.Equal(t, []string{"caller-1/failed"}, gone)
}

func TestHangupEnvelopeRemovesParticipant(t *testing.T) {
	conns := newFakeConnector()
	sig := newFakeSignaler()
	m := hostManager(t, &fakeDevices{}, conns, sig)

	_, err := m.AddParticipant(context.Background(), "caller-1", "Sam", false)
	require.NoError(t, err)

	sig.in <- &Envelope{Channel: "caller-1", From: "caller-1", Payload: map[string]any{"type": "hangup"}}

	require.Eventually(t, func() bool {
		return len(m.Participants()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestAnswerEnvelopeRoutedToConnection(t *testing.T) {
	conns := newFakeConnector()
	sig := newFakeSignaler()
	m := hostManager(t, &fakeDevices{}, conns, sig)

	_, err := m.AddParticipant(context.Background(), "caller-1", "Sam", false)
	require.NoError(t, err)

	// Unknown channels are dropped without effect.
	sig.in <- &Envelope{Channel: "stranger", Payload: map[string]any{"type": "answer", "sdp": "x"}}
	sig.in <- &Envelope{Channel: "caller-1", Payload: map[string]any{"type": "answer", "sdp": "remote-sdp"}}

	require.Eventually(t, func() bool {
		return conns.conn("caller-1").gotAnswer() == "remote-sdp"
	}, time.Second, 10*time.Millisecond)
	assert.Len(t, m.Participants(), 1)
}

func TestToggleScreenSharePausesAndRestoresCamera(t *testing.T) {
	s, video, audio := camMicStream()
	screen := &fakeStream{tracks: []MediaTrack{newFakeTrack("screen", TrackVideo)}}
	dev := &fakeDevices{userStreams: []*fakeStream{s}, dispStreams: []*fakeStream{screen}}
	m := hostManager(t, dev, newFakeConnector(), nil)

	require.NoError(t, m.StartLocalStream(context.Background(), Constraints{Video: true, Audio: true}))

	sharing, err := m.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	assert.True(t, sharing)
	assert.False(t, video.Enabled(), "camera video pauses during share")
	assert.True(t, audio.Enabled(), "audio keeps flowing")
	assert.False(t, video.isStopped(), "camera track is paused, not stopped")

	sharing, err = m.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	assert.False(t, sharing)
	assert.True(t, video.Enabled(), "camera restored after share ends")

	st := m.State()
	assert.False(t, st.ScreenSharing)
	assert.True(t, st.VideoEnabled)
}

func TestScreenShareRestoresSavedVideoState(t *testing.T) {
	s, video, _ := camMicStream()
	screen := &fakeStream{tracks: []MediaTrack{newFakeTrack("screen", TrackVideo)}}
	dev := &fakeDevices{userStreams: []*fakeStream{s}, dispStreams: []*fakeStream{screen}}
	m := hostManager(t, dev, newFakeConnector(), nil)

	require.NoError(t, m.StartLocalStream(context.Background(), Constraints{Video: true, Audio: true}))
	m.ToggleVideo(false)

	_, err := m.ToggleScreenShare(context.Background())
	require.NoError(t, err)

	// Camera was off before the share; toggling video during the share
	// changes the saved state, not the paused track.
	m.ToggleVideo(true)
	assert.False(t, video.Enabled())

	m.StopScreenShare()
	assert.True(t, video.Enabled())
}

func TestScreenShareEndedByDeviceEvent(t *testing.T) {
	s, video, _ := camMicStream()
	screenTrack := newFakeTrack("screen", TrackVideo)
	screen := &fakeStream{tracks: []MediaTrack{screenTrack}}
	dev := &fakeDevices{userStreams: []*fakeStream{s}, dispStreams: []*fakeStream{screen}}
	m := hostManager(t, dev, newFakeConnector(), nil)

	require.NoError(t, m.StartLocalStream(context.Background(), Constraints{Video: true, Audio: true}))

	_, err := m.ToggleScreenShare(context.Background())
	require.NoError(t, err)

	// User ends the capture from the native picker.
	screenTrack.fireEnded()

	st := m.State()
	assert.False(t, st.ScreenSharing)
	assert.True(t, video.Enabled())
}

func TestScreenShareDeniedMapsError(t *testing.T) {
	s, _, _ := camMicStream()
	dev := &fakeDevices{userStreams: []*fakeStream{s}, dispErr: ErrScreenShareDenied}
	m := hostManager(t, dev, newFakeConnector(), nil)

	require.NoError(t, m.StartLocalStream(context.Background(), Constraints{Video: true, Audio: true}))

	sharing, err := m.ToggleScreenShare(context.Background())
	assert.ErrorIs(t, err, ErrScreenShareDenied)
	assert.False(t, sharing)
	assert.False(t, m.State().ScreenSharing)
}

func TestScreenShareTimesOut(t *testing.T) {
	s, _, _ := camMicStream()
	screen := &fakeStream{tracks: []MediaTrack{newFakeTrack("screen", TrackVideo)}}
	dev := &fakeDevices{
		userStreams: []*fakeStream{s},
		dispStreams: []*fakeStream{screen},
		dispDelay:   2 * time.Second,
	}
	m := hostManager(t, dev, newFakeConnector(), nil)

	require.NoError(t, m.StartLocalStream(context.Background(), Constraints{Video: true, Audio: true}))

	_, err := m.ToggleScreenShare(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestReleaseAllClearsEverything(t *testing.T) {
	s, _, _ := camMicStream()
	dev := &fakeDevices{userStreams: []*fakeStream{s}}
	conns := newFakeConnector()
	sig := newFakeSignaler()
	m := hostManager(t, dev, conns, sig)

	require.NoError(t, m.StartLocalStream(context.Background(), Constraints{Video: true, Audio: true}))
	_, err := m.AddParticipant(context.Background(), "caller-1", "Sam", false)
	require.NoError(t, err)
	_, err = m.AddParticipant(context.Background(), "caller-2", "Kim", false)
	require.NoError(t, err)

	m.ReleaseAll()

	assert.Empty(t, m.Participants())
	assert.False(t, m.Streaming())
	assert.True(t, conns.conn("caller-1").isClosed())
	assert.True(t, conns.conn("caller-2").isClosed())
}

func TestParticipantsHostFirst(t *testing.T) {
	s, _, _ := camMicStream()
	dev := &fakeDevices{userStreams: []*fakeStream{s}}
	m := hostManager(t, dev, newFakeConnector(), newFakeSignaler())

	_, err := m.AddParticipant(context.Background(), "caller-1", "Sam", false)
	require.NoError(t, err)
	require.NoError(t, m.StartLocalStream(context.Background(), Constraints{Video: true, Audio: true}))

	ps := m.Participants()
	require.Len(t, ps, 2)
	assert.Equal(t, LocalID, ps[0].ID)
	assert.Equal(t, "caller-1", ps[1].ID)
}

func TestCloseTwiceConcurrently(t *testing.T) {
	m := NewManager(Options{Devices: &fakeDevices{}})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Close()
		}()
	}
	wg.Wait()
}

func TestStartResetsTogglesFromConstraints(t *testing.T) {
	dev := &fakeDevices{userStreams: []*fakeStream{camMicStream()}}
	m := hostManager(t, dev, newFakeConnector(), newFakeSignaler())

	// A toggle before any stream exists is dashboard state only.
	m.ToggleVideo(false)
	require.NoError(t, m.StartLocalStream(context.Background(), Constraints{Video: true, Audio: true}))

	st := m.State()
	assert.True(t, st.VideoEnabled)
	assert.True(t, st.AudioEnabled)
}

func TestConnectionFailureMapped(t *testing.T) {
	dev := &fakeDevices{userStreams: []*fakeStream{camMicStream()}}
	conn := newFakeConnector()
	conn.dialErr = errors.New("no route")
	m := hostManager(t, dev, conn, newFakeSignaler())
	require.NoError(t, m.StartLocalStream(context.Background(), Constraints{Video: true, Audio: true}))

	_, err := m.AddParticipant(context.Background(), "caller-1", "Sam", false)
	require.ErrorIs(t, err, ErrPeerConnectionFailed)
	for _, p := range m.Participants() {
		assert.True(t, p.IsHost)
	}
}
