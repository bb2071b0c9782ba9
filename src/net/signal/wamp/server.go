package wamp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/sirupsen/logrus"
)

// Server implements a WAMP server through which connected clients publish
// signaling messages to one-another. It embeds the RoomService of its realm.
type Server struct {
	address    string
	router     router.Router
	rooms      *RoomService
	httpServer *http.Server
	logger     *logrus.Entry
}

// NewRouter creates a WAMP router with a single realm, which accepts
// anonymous sessions and lets callers disclose their session id.
func NewRouter(realm string, logger *logrus.Entry) (router.Router, error) {
	routerConfig := &router.Config{
		RealmConfigs: []*router.RealmConfig{
			{
				URI:           wamp.URI(realm),
				AnonymousAuth: true,
				AllowDisclose: true,
			},
		},
	}

	return router.NewRouter(routerConfig, logger)
}

// NewServer instantiates a new Server which can be run at a specified address.
func NewServer(address string,
	realm string,
	certFile string,
	keyFile string,
	logger *logrus.Entry) (*Server, error) {

	nxr, err := NewRouter(realm, logger)
	if err != nil {
		return nil, err
	}

	rooms, err := NewRoomService(nxr, realm, logger.WithField("component", "rooms"))
	if err != nil {
		nxr.Close()
		return nil, err
	}

	wss := router.NewWebsocketServer(nxr)

	// prepare tls config with certFile and keyFile
	tlscfg := &tls.Config{}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		rooms.Close()
		nxr.Close()
		return nil, fmt.Errorf("error loading X509 key pair: %s", err)
	}
	tlscfg.Certificates = append(tlscfg.Certificates, cert)

	httpServer := &http.Server{
		Handler:   wss,
		Addr:      address,
		TLSConfig: tlscfg,
	}

	res := &Server{
		address:    address,
		router:     nxr,
		rooms:      rooms,
		httpServer: httpServer,
		logger:     logger,
	}

	return res, nil
}

// Run starts the WAMP websocket server
func (s *Server) Run() error {
	// The call to ListenAndServeTLS has empty arguments because the
	// certificates have already been loaded in the TLSConfig of the server in
	// the constructor
	err := s.httpServer.ListenAndServeTLS("", "")
	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Run")
	}
	return err
}

// Shutdown stops the websocket server, the room service, and the wamp router
func (s *Server) Shutdown() {
	defer s.router.Close()

	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		s.logger.WithError(err).Error("Shutting down http server")
	}

	if err := s.rooms.Close(); err != nil {
		s.logger.WithError(err).Error("Closing room service")
	}
}

// Addr returns the address of the server
func (s *Server) Addr() string {
	return s.address
}

// Rooms returns the RoomService of the server.
func (s *Server) Rooms() *RoomService {
	return s.rooms
}
