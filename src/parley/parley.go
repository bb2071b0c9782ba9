// Package parley assembles a conference participant from its configuration:
// the signaling client, the WebRTC transport, the local media, the session
// history and the HTTP status service.
package parley

import (
	"context"
	"fmt"
	"time"

	"github.com/mosaicnetworks/parley/src/conference"
	"github.com/mosaicnetworks/parley/src/config"
	"github.com/mosaicnetworks/parley/src/media"
	"github.com/mosaicnetworks/parley/src/net/rtc"
	"github.com/mosaicnetworks/parley/src/net/signal"
	"github.com/mosaicnetworks/parley/src/net/signal/wamp"
	"github.com/mosaicnetworks/parley/src/net/signal/ws"
	"github.com/mosaicnetworks/parley/src/peer"
	"github.com/mosaicnetworks/parley/src/service"
	"github.com/mosaicnetworks/parley/src/store"
	"github.com/sirupsen/logrus"
)

// Parley is a conference participant. Fields left nil before Init are
// created from the configuration, so that callers can inject their own
// signaling, transport or capture.
type Parley struct {
	Config     *config.Config
	Signal     signal.Signal
	Transport  peer.TransportFactory
	Capturer   media.Capturer
	Store      store.Store
	Listener   conference.Listener
	Conference *conference.Conference
	Service    *service.Service
	logger     *logrus.Entry
}

// NewParley ...
func NewParley(c *config.Config) *Parley {
	return &Parley{
		Config: c,
		logger: c.Logger(),
	}
}

func (p *Parley) initSignal() error {
	if p.Signal != nil {
		return nil
	}

	id := p.Config.EnsurePeerID()

	switch p.Config.SignalKind {
	case config.SignalWAMP:
		cli, err := wamp.NewClient(
			p.Config.SignalAddr,
			p.Config.SignalRealm,
			id,
			p.Config.CertFile(),
			p.Config.SignalSkipVerify,
			p.Config.SignalTimeout,
			p.logger.WithField("component", "signal"),
		)
		if err != nil {
			return err
		}
		p.Signal = cli
	case config.SignalWebsocket:
		p.Signal = ws.NewClient(
			p.Config.SignalAddr,
			id,
			p.logger.WithField("component", "signal"),
		)
	default:
		return fmt.Errorf("unknown signal backend %q", p.Config.SignalKind)
	}

	return nil
}

func (p *Parley) initTransport() error {
	if p.Transport != nil {
		return nil
	}

	factory, err := rtc.NewFactory(
		p.Config.ICEServers(),
		p.logger.WithField("component", "rtc"),
	)
	if err != nil {
		return err
	}

	p.Transport = factory.NewTransport

	return nil
}

func (p *Parley) initCapturer() error {
	if p.Capturer == nil {
		p.Capturer = rtc.NewSampleCapturer(p.Config.EnsurePeerID())
	}
	return nil
}

func (p *Parley) initStore() error {
	if p.Store != nil {
		return nil
	}

	if !p.Config.Store {
		p.Store = store.NewInmemStore()

		p.logger.Debug("created new in-mem store")

		return nil
	}

	p.logger.WithField("path", p.Config.DatabaseDir).Debug("Attempting to load or create database")

	s, err := store.NewBadgerStore(p.Config.DatabaseDir, p.logger)
	if err != nil {
		return err
	}

	p.Store = s

	return nil
}

func (p *Parley) initConference() error {
	p.Conference = conference.NewConference(
		p.Config,
		p.Signal,
		p.Transport,
		p.Capturer,
		p.Store,
		p.Listener,
	)
	return nil
}

func (p *Parley) initService() error {
	if !p.Config.NoService {
		p.Service = service.NewService(
			p.Config.ServiceAddr,
			p.Conference,
			p.Config,
			p.logger.WithField("component", "service"),
		)
	}
	return nil
}

// Init initialises every component. It does not join the room.
func (p *Parley) Init() error {
	if err := p.initSignal(); err != nil {
		return err
	}

	if err := p.initTransport(); err != nil {
		return err
	}

	if err := p.initCapturer(); err != nil {
		return err
	}

	if err := p.initStore(); err != nil {
		return err
	}

	if err := p.initConference(); err != nil {
		return err
	}

	if err := p.initService(); err != nil {
		return err
	}

	return nil
}

// Run joins the room and stays in it until ctx is done, then leaves.
func (p *Parley) Run(ctx context.Context) error {
	if p.Service != nil {
		go p.Service.Serve()
	}

	if err := p.Conference.JoinRoom(ctx); err != nil {
		if cerr := p.Signal.Close(); cerr != nil {
			p.logger.WithError(cerr).Warn("Closing signal")
		}
		p.shutdown()
		return err
	}

	<-ctx.Done()

	p.Leave()

	return nil
}

// Leave ends the session and releases every component.
func (p *Parley) Leave() {
	p.Conference.LeaveAll()
	p.shutdown()
}

func (p *Parley) shutdown() {
	if p.Service != nil {
		if err := p.Service.Shutdown(5 * time.Second); err != nil {
			p.logger.WithError(err).Warn("Shutting down service")
		}
	}

	if err := p.Store.Close(); err != nil {
		p.logger.WithError(err).Warn("Closing store")
	}
}
