package stream

import (
	"context"
	"log"
)

// wireConnection hooks a freshly built connection into the manager: ICE
// candidates go out through the signaler, the first remote track binds the
// incoming stream to the participant, and a terminal state tears the
// participant down. Teardown is automatic but never retried — the host
// must promote the caller again to reconnect.
func (m *Manager) wireConnection(id string, conn PeerConnection) {
	conn.OnICECandidate(func(candidate string) {
		if m.sig == nil {
			return
		}
		if err := m.sig.Send(id, map[string]any{"type": "ice-candidate", "candidate": candidate}); err != nil {
			log.Printf("STREAM [%s]: send candidate: %v", id, err)
		}
	})

	conn.OnRemoteStream(func(s MediaStream) {
		m.mu.Lock()
		p, ok := m.participants[id]
		if ok {
			p.stream = s
		}
		m.mu.Unlock()
		if !ok {
			// Participant vanished while media was in flight.
			stopTracks(s)
			return
		}
		log.Printf("STREAM [%s]: remote media attached", id)
	})

	conn.OnStateChange(func(st ConnState) {
		log.Printf("STREAM [%s]: connection %s", id, st)
		if !st.Terminal() {
			return
		}
		// Callbacks run on pion goroutines; removal re-enters the manager
		// lock, so hop off the callback path.
		go func() {
			if m.removeParticipant(id) {
				m.notifyGone(id, string(st))
			}
		}()
	})
}

// dispatchLoop reads signaling envelopes and routes them to participant
// connections.
func (m *Manager) dispatchLoop() {
	ch, cancel := m.sig.Subscribe()
	defer cancel()

	for {
		select {
		case <-m.done:
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			m.dispatch(env)
		}
	}
}

// dispatch routes one signaling envelope. Unknown channels are dropped —
// the roster, not the wire, decides who participates.
func (m *Manager) dispatch(env *Envelope) {
	payload, ok := env.Payload.(map[string]any)
	if !ok {
		return
	}
	msgType, _ := payload["type"].(string)

	if msgType == "hangup" {
		if m.removeParticipant(env.Channel) {
			m.notifyGone(env.Channel, "hangup")
		}
		return
	}

	m.mu.Lock()
	p, ok := m.participants[env.Channel]
	m.mu.Unlock()
	if !ok || p.conn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	switch msgType {
	case "offer":
		sdp, _ := payload["sdp"].(string)
		answer, err := p.conn.HandleOffer(ctx, sdp)
		if err != nil {
			log.Printf("STREAM [%s]: handle offer: %v", env.Channel, err)
			return
		}
		if err := m.sig.Send(env.Channel, map[string]any{"type": "answer", "sdp": answer}); err != nil {
			log.Printf("STREAM [%s]: send answer: %v", env.Channel, err)
		}
	case "answer":
		sdp, _ := payload["sdp"].(string)
		if err := p.conn.HandleAnswer(sdp); err != nil {
			log.Printf("STREAM [%s]: handle answer: %v", env.Channel, err)
		}
	case "ice-candidate":
		candidate, _ := payload["candidate"].(string)
		if err := p.conn.AddICECandidate(candidate); err != nil {
			log.Printf("STREAM [%s]: add candidate: %v", env.Channel, err)
		}
	default:
		log.Printf("STREAM [%s]: unknown signal %q", env.Channel, msgType)
	}
}
