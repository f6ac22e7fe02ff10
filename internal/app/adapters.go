package app

import (
	"context"
	"sync"

	"github.com/petervdpas/onair/internal/realtime"
	"github.com/petervdpas/onair/internal/stream"
)

// participantAllocator bridges the show registry to the stream manager.
// The registry only learns success or failure; participant bookkeeping
// stays in the stream package.
type participantAllocator struct {
	mgr *stream.Manager
}

func (a participantAllocator) Allocate(ctx context.Context, id, name string) error {
	_, err := a.mgr.AddParticipant(ctx, id, name, false)
	return err
}

func (a participantAllocator) Release(id string) error {
	return a.mgr.RemoveParticipant(id)
}

func (a participantAllocator) ReleaseAll() {
	a.mgr.ReleaseAll()
}

// signalBridge adapts the WebSocket hub to the stream manager's Signaler.
// Envelope is copied field by field so the two packages stay decoupled.
type signalBridge struct {
	hub *realtime.Manager
}

func (s signalBridge) Send(channelID string, payload any) error {
	return s.hub.Send(channelID, payload)
}

func (s signalBridge) Subscribe() (chan *stream.Envelope, func()) {
	src, cancelSrc := s.hub.Subscribe()
	out := make(chan *stream.Envelope, 32)
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case env, ok := <-src:
				if !ok {
					return
				}
				conv := &stream.Envelope{Channel: env.Channel, From: env.From, Payload: env.Payload}
				select {
				case out <- conv:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelSrc()
			close(done)
		})
	}
	return out, cancel
}
