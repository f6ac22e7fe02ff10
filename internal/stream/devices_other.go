//go:build !linux

package stream

import "context"

// Native capture relies on V4L2 and malgo and is built on Linux only.
// Other platforms get a Devices stub that fails acquisition and a plain
// pion connector, so the host can still run receive-only.
func NewCaptureStack(_ MediaConfig, ice ICEConfig) (Devices, Connector, error) {
	return stubDevices{}, NewConnector(ice), nil
}

type stubDevices struct{}

func (stubDevices) AcquireUserMedia(context.Context, Constraints) (MediaStream, error) {
	return nil, ErrDeviceUnavailable
}

func (stubDevices) AcquireDisplayMedia(context.Context) (MediaStream, error) {
	return nil, ErrScreenShareDenied
}
