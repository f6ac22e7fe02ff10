// Package stream owns local media acquisition, per-participant media and
// peer-connection resources, and device toggles. It is the only package
// that touches capture hardware. Coupling to the signaling transport is via
// the Signaler interface only.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Participant is the live resource bundle backing an on-air caller or the
// host's own feed. Its stream and connection are exclusively owned and are
// fully released by RemoveParticipant.
type Participant struct {
	ID     string
	Name   string
	IsHost bool

	stream MediaStream
	conn   PeerConnection
}

// ParticipantView is the read-only projection for the API layer.
type ParticipantView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsHost   bool   `json:"is_host"`
	HasMedia bool   `json:"has_media"`
}

// StateView summarizes the manager for the dashboard.
type StateView struct {
	Streaming     bool              `json:"streaming"`
	VideoEnabled  bool              `json:"video_enabled"`
	AudioEnabled  bool              `json:"audio_enabled"`
	ScreenSharing bool              `json:"screen_sharing"`
	Participants  []ParticipantView `json:"participants"`
}

// Options configures a Manager.
type Options struct {
	Devices   Devices
	Connector Connector // nil disables negotiation (receive-only dashboards)
	Signaler  Signaler
	HostMode  bool   // register the "local" participant on stream start
	HostName  string // display name for the local participant
	Initiator bool   // this side opens connections to new participants
	// Timeout bounds every device and negotiation call. Zero means 15s.
	Timeout time.Duration
}

// Manager tracks the participant registry and the local stream handle.
// Peer callbacks (ICE, track, state events) arrive asynchronously relative
// to UI commands, so every mutation takes the manager lock.
type Manager struct {
	devices   Devices
	connect   Connector
	sig       Signaler
	hostMode  bool
	hostName  string
	initiator bool
	timeout   time.Duration

	mu           sync.Mutex
	local        MediaStream
	screen       MediaStream
	videoEnabled bool
	audioEnabled bool
	sharing      bool
	savedVideo   bool
	participants map[string]*Participant

	goneMu sync.RWMutex
	onGone []func(id, reason string)

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a stream manager and starts routing signaling
// envelopes immediately when a Signaler is present.
func NewManager(opt Options) *Manager {
	if opt.Timeout <= 0 {
		opt.Timeout = 15 * time.Second
	}
	if opt.HostName == "" {
		opt.HostName = "Host"
	}
	m := &Manager{
		devices:      opt.Devices,
		connect:      opt.Connector,
		sig:          opt.Signaler,
		hostMode:     opt.HostMode,
		hostName:     opt.HostName,
		initiator:    opt.Initiator,
		timeout:      opt.Timeout,
		participants: make(map[string]*Participant),
		done:         make(chan struct{}),
	}
	if m.sig != nil {
		go m.dispatchLoop()
	}
	return m
}

// OnParticipantGone registers a callback fired when a participant is
// removed because its connection reached a terminal state or the remote
// side hung up. Not fired for removals the host asked for.
func (m *Manager) OnParticipantGone(fn func(id, reason string)) {
	m.goneMu.Lock()
	m.onGone = append(m.onGone, fn)
	m.goneMu.Unlock()
}

// StartLocalStream acquires camera/microphone media under the given
// constraints and stores it as the local stream. In host mode the "local"
// participant is registered. Acquisition failures propagate so the
// invoking queue transition can roll back.
func (m *Manager) StartLocalStream(ctx context.Context, c Constraints) error {
	m.mu.Lock()
	if m.local != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	s, err := m.await(ctx, func(ctx context.Context) (MediaStream, error) {
		return m.devices.AcquireUserMedia(ctx, c)
	})
	if err != nil {
		return fmt.Errorf("start local stream: %w", err)
	}

	m.mu.Lock()
	if m.local != nil {
		m.mu.Unlock()
		stopTracks(s)
		return nil
	}
	m.local = s
	m.videoEnabled = c.Video
	m.audioEnabled = c.Audio
	if m.hostMode {
		m.participants[LocalID] = &Participant{ID: LocalID, Name: m.hostName, IsHost: true, stream: s}
	}
	m.mu.Unlock()
	log.Printf("STREAM: local media up (video=%v audio=%v)", c.Video, c.Audio)
	return nil
}

// StopLocalStream stops every local track, ends any active screen share,
// and removes the "local" participant. Idempotent.
func (m *Manager) StopLocalStream() {
	m.mu.Lock()
	if m.screen != nil {
		stopTracks(m.screen)
		m.screen = nil
	}
	m.sharing = false
	if m.local != nil {
		stopTracks(m.local)
		m.local = nil
		log.Printf("STREAM: local media stopped")
	}
	m.videoEnabled = false
	m.audioEnabled = false
	delete(m.participants, LocalID)
	m.mu.Unlock()
}

// AddParticipant registers a participant. When this side is the connection
// initiator and the id is remote, negotiation starts: a connection with
// the local tracks attached, and an offer sent through the signaler.
// Adding an id that is already registered returns the existing entry
// unchanged.
func (m *Manager) AddParticipant(ctx context.Context, id, name string, isHost bool) (ParticipantView, error) {
	m.mu.Lock()
	if p, ok := m.participants[id]; ok {
		v := p.view()
		m.mu.Unlock()
		return v, nil
	}
	local := m.local
	m.mu.Unlock()

	var conn PeerConnection
	if m.initiator && id != LocalID && m.connect != nil {
		var err error
		conn, err = m.connect.NewConnection(id, local)
		if err != nil {
			return ParticipantView{}, fmt.Errorf("connect %s: %w: %v", id, ErrPeerConnectionFailed, err)
		}
		m.wireConnection(id, conn)
	}

	p := &Participant{ID: id, Name: name, IsHost: isHost, conn: conn}
	m.mu.Lock()
	if existing, ok := m.participants[id]; ok {
		v := existing.view()
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return v, nil
	}
	m.participants[id] = p
	m.mu.Unlock()

	if conn != nil && m.sig != nil {
		offer, err := conn.CreateOffer(ctx)
		if err != nil {
			m.removeParticipant(id)
			return ParticipantView{}, fmt.Errorf("offer for %s: %w: %v", id, ErrPeerConnectionFailed, err)
		}
		if err := m.sig.Send(id, map[string]any{"type": "offer", "sdp": offer}); err != nil {
			m.removeParticipant(id)
			return ParticipantView{}, fmt.Errorf("send offer to %s: %w: %v", id, ErrPeerConnectionFailed, err)
		}
	}
	log.Printf("STREAM: participant %s (%q) added", id, name)
	return p.view(), nil
}

// RemoveParticipant closes the participant's connection, stops its remote
// stream tracks, and drops the entry. Idempotent — removing an unknown id
// is a no-op.
func (m *Manager) RemoveParticipant(id string) error {
	m.removeParticipant(id)
	return nil
}

func (m *Manager) removeParticipant(id string) bool {
	m.mu.Lock()
	p, ok := m.participants[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.participants, id)
	m.mu.Unlock()

	if p.conn != nil {
		_ = p.conn.Close()
	}
	// The local participant's stream is the local stream itself; it is
	// released by StopLocalStream, not here.
	if p.stream != nil && id != LocalID {
		stopTracks(p.stream)
	}
	log.Printf("STREAM: participant %s removed", id)
	return true
}

// ReleaseAll removes every participant and stops the local stream.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.participants))
	for id := range m.participants {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.removeParticipant(id)
	}
	m.StopLocalStream()
}

// ToggleVideo enables or disables the local camera tracks in place — no
// renegotiation. Before a stream exists the flag only feeds the dashboard
// state; StartLocalStream resets both flags from its constraints.
func (m *Manager) ToggleVideo(enabled bool) {
	m.mu.Lock()
	m.videoEnabled = enabled
	// While a screen share is live the camera stays paused; the flag is
	// applied on the restore path instead.
	if m.sharing {
		m.savedVideo = enabled
	} else if m.local != nil {
		setKindEnabled(m.local, TrackVideo, enabled)
	}
	m.mu.Unlock()
	log.Printf("STREAM: video enabled=%v", enabled)
}

// ToggleAudio enables or disables the local microphone tracks in place.
// Audio keeps flowing during a screen share.
func (m *Manager) ToggleAudio(enabled bool) {
	m.mu.Lock()
	m.audioEnabled = enabled
	if m.local != nil {
		setKindEnabled(m.local, TrackAudio, enabled)
	}
	m.mu.Unlock()
	log.Printf("STREAM: audio enabled=%v", enabled)
}

// ToggleScreenShare starts display capture if idle, or stops it if active,
// and reports the resulting sharing state. While sharing, the camera video
// track is paused (disabled, not stopped); stopping restores its previous
// enabled state. A capture the user ends from the native picker funnels
// into the same StopScreenShare path.
func (m *Manager) ToggleScreenShare(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.sharing {
		m.stopScreenShareLocked()
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()

	s, err := m.await(ctx, m.devices.AcquireDisplayMedia)
	if err != nil {
		if errors.Is(err, ErrTimeout) || errors.Is(err, ErrScreenShareDenied) {
			return false, err
		}
		return false, fmt.Errorf("%w: %v", ErrScreenShareDenied, err)
	}

	m.mu.Lock()
	if m.sharing {
		m.mu.Unlock()
		stopTracks(s)
		return true, nil
	}
	m.screen = s
	m.sharing = true
	m.savedVideo = m.videoEnabled
	if m.local != nil {
		setKindEnabled(m.local, TrackVideo, false)
	}
	for _, t := range s.Tracks() {
		if t.Kind() == TrackVideo {
			t.OnEnded(func() { m.StopScreenShare() })
		}
	}
	m.mu.Unlock()
	log.Printf("STREAM: screen share started")
	return true, nil
}

// StopScreenShare ends an active capture and restores the camera video
// track. Safe to call when not sharing. Entry point for both the host
// toggle and the "capture ended" device event.
func (m *Manager) StopScreenShare() {
	m.mu.Lock()
	m.stopScreenShareLocked()
	m.mu.Unlock()
}

func (m *Manager) stopScreenShareLocked() {
	if !m.sharing {
		return
	}
	if m.screen != nil {
		stopTracks(m.screen)
		m.screen = nil
	}
	m.sharing = false
	m.videoEnabled = m.savedVideo
	if m.local != nil {
		setKindEnabled(m.local, TrackVideo, m.savedVideo)
	}
	log.Printf("STREAM: screen share stopped")
}

// Streaming reports whether a local stream is active.
func (m *Manager) Streaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local != nil
}

// Participants returns the registry snapshot, host feed first.
func (m *Manager) Participants() []ParticipantView {
	m.mu.Lock()
	out := make([]ParticipantView, 0, len(m.participants))
	for _, p := range m.participants {
		out = append(out, p.view())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsHost != out[j].IsHost {
			return out[i].IsHost
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// State returns the full dashboard snapshot.
func (m *Manager) State() StateView {
	m.mu.Lock()
	v := StateView{
		Streaming:     m.local != nil,
		VideoEnabled:  m.videoEnabled,
		AudioEnabled:  m.audioEnabled,
		ScreenSharing: m.sharing,
	}
	m.mu.Unlock()
	v.Participants = m.Participants()
	return v
}

// Close shuts down the manager and releases every resource. Safe to call
// more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
	m.ReleaseAll()
}

// await bounds a device/SDK call with the manager timeout. A result that
// arrives after the deadline is released, never leaked.
func (m *Manager) await(ctx context.Context, fn func(context.Context) (MediaStream, error)) (MediaStream, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	type result struct {
		s   MediaStream
		err error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := fn(ctx)
		ch <- result{s, err}
	}()

	select {
	case res := <-ch:
		return res.s, res.err
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.s != nil {
				stopTracks(res.s)
			}
		}()
		return nil, ErrTimeout
	}
}

func (m *Manager) notifyGone(id, reason string) {
	m.goneMu.RLock()
	handlers := make([]func(string, string), len(m.onGone))
	copy(handlers, m.onGone)
	m.goneMu.RUnlock()
	for _, fn := range handlers {
		fn(id, reason)
	}
}

func stopTracks(s MediaStream) {
	for _, t := range s.Tracks() {
		_ = t.Stop()
	}
}

func setKindEnabled(s MediaStream, kind TrackKind, enabled bool) {
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}

func (p *Participant) view() ParticipantView {
	return ParticipantView{ID: p.ID, Name: p.Name, IsHost: p.IsHost, HasMedia: p.stream != nil}
}
