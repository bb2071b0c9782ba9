// Package service implements the HTTP API exposing the status of a
// participant's session.
package service

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mosaicnetworks/parley/src/conference"
	"github.com/mosaicnetworks/parley/src/config"
	"github.com/mosaicnetworks/parley/src/roster"
	"github.com/mosaicnetworks/parley/src/store"
	"github.com/sirupsen/logrus"
)

// Session is the part of a Conference exposed by the Service.
type Session interface {
	GetStats() map[string]string
	Peers() []conference.PeerStatus
	Roster() []roster.Member
	History() ([]store.Record, error)
}

// ClientConfig is the subset of the configuration that is safe to expose.
type ClientConfig struct {
	Room        string   `json:"room"`
	PeerID      string   `json:"peerId"`
	DisplayName string   `json:"displayName"`
	Signal      string   `json:"signal"`
	SignalAddr  string   `json:"signalAddr"`
	ICEServers  []string `json:"iceServers"`
	Audio       bool     `json:"audio"`
	Video       bool     `json:"video"`
}

// Service ...
type Service struct {
	bindAddress string
	session     Session
	conf        *config.Config
	engine      *gin.Engine
	server      *http.Server
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, session Session, conf *config.Config, logger *logrus.Entry) *Service {
	service := &Service{
		bindAddress: bindAddress,
		session:     session,
		conf:        conf,
		logger:      logger,
	}

	service.registerHandlers()

	service.server = &http.Server{
		Addr:    bindAddress,
		Handler: service.engine,
	}

	return service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering parley API handlers")

	engine := gin.New()
	engine.Use(gin.Recovery(), s.cors)

	engine.GET("/stats", s.GetStats)
	engine.GET("/peers", s.GetPeers)
	engine.GET("/roster", s.GetRoster)
	engine.GET("/history", s.GetHistory)
	engine.GET("/api/config", s.GetConfig)

	s.engine = engine
}

func (s *Service) cors(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Next()
}

// Handler returns the http.Handler of the Service.
func (s *Service) Handler() http.Handler {
	return s.engine
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving parley API")

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error(err)
	}
}

// Shutdown stops the http server, waiting at most timeout for requests in
// progress.
func (s *Service) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// GetStats ...
func (s *Service) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.GetStats())
}

// GetPeers ...
func (s *Service) GetPeers(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.Peers())
}

// GetRoster ...
func (s *Service) GetRoster(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.Roster())
}

// GetHistory ...
func (s *Service) GetHistory(c *gin.Context) {
	records, err := s.session.History()
	if err != nil {
		s.logger.WithError(err).Error("Retrieving history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetConfig returns the client configuration. Credentials are never
// included.
func (s *Service) GetConfig(c *gin.Context) {
	ice := []string{}
	for _, server := range s.conf.ICEServers() {
		ice = append(ice, server.URLs...)
	}

	c.JSON(http.StatusOK, ClientConfig{
		Room:        s.conf.Room,
		PeerID:      s.conf.PeerID,
		DisplayName: s.conf.DisplayName,
		Signal:      s.conf.SignalKind,
		SignalAddr:  s.conf.SignalAddr,
		ICEServers:  ice,
		Audio:       s.conf.Audio,
		Video:       s.conf.Video,
	})
}
