package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/petervdpas/onair/internal/config"
	"github.com/petervdpas/onair/internal/monitor"
	"github.com/petervdpas/onair/internal/realtime"
	"github.com/petervdpas/onair/internal/show"
	"github.com/petervdpas/onair/internal/storage"
	"github.com/petervdpas/onair/internal/stream"
	"github.com/petervdpas/onair/internal/util"
	"github.com/petervdpas/onair/internal/viewer"
)

type Options struct {
	Dir     string
	CfgPath string
	Cfg     config.Config
}

func Run(ctx context.Context, opt Options) error {
	logBuf := viewer.NewLogBuffer(800)
	log.SetOutput(logBuf)

	logBanner(opt.Dir, opt.CfgPath)

	cfg := opt.Cfg

	// ── Call archive
	db, err := storage.Open(util.ResolvePath(opt.Dir, cfg.Storage.DataDir))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	log.Printf("archive: %s", db.Path())

	// ── Capture and transport
	devices, connector, err := stream.NewCaptureStack(
		stream.MediaConfig{
			MaxWidth:  cfg.Media.MaxWidth,
			MaxHeight: cfg.Media.MaxHeight,
			BitRate:   cfg.Media.BitRate,
		},
		iceFromConfig(cfg.ICE),
	)
	if err != nil {
		return fmt.Errorf("capture stack: %w", err)
	}

	// ── Guest signaling hub
	hub := realtime.New(stream.LocalID)
	defer hub.Close()

	// ── Stream manager (host side initiates all connections)
	streamMgr := stream.NewManager(stream.Options{
		Devices:   devices,
		Connector: connector,
		Signaler:  signalBridge{hub: hub},
		HostMode:  true,
		HostName:  cfg.Show.HostName,
		Initiator: true,
		Timeout:   time.Duration(cfg.Show.OpTimeoutSec) * time.Second,
	})
	defer streamMgr.Close()

	// ── Caller registry
	registry := show.NewRegistry(participantAllocator{mgr: streamMgr}, db)
	registry.SetMaxLive(cfg.Show.MaxLive)
	registry.SetDefaultShowName(cfg.Show.DefaultName)

	// A dead connection sends the caller back to the queue so the host can
	// retry or reject; the participant itself is already gone.
	streamMgr.OnParticipantGone(func(id, reason string) {
		if id == stream.LocalID {
			return
		}
		log.Printf("APP: participant %s gone (%s)", id, reason)
		if err := registry.TakeOffAir(id); err != nil {
			log.Printf("APP: requeue %s: %v", id, err)
		}
	})

	// ── Metrics
	metrics := monitor.NewMonitor()
	go watchMetrics(ctx, registry, streamMgr, metrics)

	// ── Config hot reload
	var cfgMu sync.RWMutex
	current := cfg
	stopWatch, err := config.Watch(opt.CfgPath, func(next config.Config) {
		cfgMu.Lock()
		current = next
		cfgMu.Unlock()
		registry.SetMaxLive(next.Show.MaxLive)
		registry.SetDefaultShowName(next.Show.DefaultName)
	})
	if err != nil {
		log.Printf("APP: config watch disabled: %v", err)
	} else {
		defer stopWatch()
	}
	getCfg := func() any {
		cfgMu.RLock()
		defer cfgMu.RUnlock()
		return current
	}

	// ── Dashboard
	if cfg.Viewer.HTTPAddr != "" {
		addr, url, _ := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		go func() {
			err := viewer.Start(addr, viewer.Viewer{
				Registry: registry,
				Stream:   streamMgr,
				Realtime: hub,
				DB:       db,
				CfgPath:  opt.CfgPath,
				Cfg:      getCfg,
				Logs:     logBuf,
				Metrics:  metrics,
				AuthHash: cfg.Viewer.AdminPasswordHash,
			})
			if err != nil {
				log.Printf("APP: viewer stopped: %v", err)
			}
		}()
		log.Printf("dashboard: %s", url)
	}

	<-ctx.Done()
	log.Println("APP: shutting down, ending show...")
	registry.EndShow()
	return nil
}

func iceFromConfig(c config.ICE) stream.ICEConfig {
	ice := stream.DefaultICE()
	if len(c.STUNURLs) > 0 {
		ice.STUNURLs = c.STUNURLs
	}
	if c.DisconnectedSec > 0 {
		ice.DisconnectedTimeout = time.Duration(c.DisconnectedSec) * time.Second
	}
	if c.FailedSec > 0 {
		ice.FailedTimeout = time.Duration(c.FailedSec) * time.Second
	}
	if c.KeepAliveSec > 0 {
		ice.KeepAliveInterval = time.Duration(c.KeepAliveSec) * time.Second
	}
	return ice
}

// watchMetrics keeps the Prometheus gauges in sync with the registry and
// the stream manager. Event driven with a slow tick as a safety net.
func watchMetrics(ctx context.Context, reg *show.Registry, mgr *stream.Manager, m *monitor.Monitor) {
	events := reg.Subscribe()
	defer reg.Unsubscribe(events)

	update := func() {
		waiting, live := reg.Counts()
		m.SetCallers(waiting, live, 0)
		m.SetParticipants(len(mgr.Participants()))
		m.SetShowLive(reg.IsLive())
	}
	update()

	tick := time.NewTicker(15 * time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			update()
		case _, ok := <-events:
			if !ok {
				return
			}
			update()
		}
	}
}
