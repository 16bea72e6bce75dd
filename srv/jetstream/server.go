// Package jetstream runs an embedded NATS server with JetStream enabled
// and exposes it as an eventbus.Streamer, for deployments that want a
// durable, multi-subscriber event log instead of eventbus.Bus's in-process
// fanout or eventbus.RedisBus's Redis stream. Adapted from the teacher's
// embedded nats package, renamed from its sidekick-specific store paths
// and server name to kaijutsu's.
package jetstream

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"kaijutsu/config"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServerOptions configures the embedded JetStream server.
type ServerOptions struct {
	Port               int
	JetStreamDomain    string
	StoreDir           string
	ServerName         string
	JetStreamMaxMemory int64
	JetStreamMaxStore  int64
}

// Server wraps a NATS server instance configured for kaijutsu.
type Server struct {
	natsServer *server.Server
	log        zerolog.Logger
	startOnce  sync.Once
}

var instance *Server
var instanceOnce sync.Once

// GetOrNewServer returns the process-wide embedded JetStream server,
// creating it on first call.
func GetOrNewServer() (*Server, error) {
	var err error
	instanceOnce.Do(func() {
		instance, err = newServer()
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func newServer() (*Server, error) {
	dataHome, err := config.DataHome()
	if err != nil {
		return nil, fmt.Errorf("failed to get kaijutsu data home: %w", err)
	}

	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	opts := ServerOptions{
		Port:            cfg.NatsServerPort(),
		JetStreamDomain: "kaijutsu_embedded",
		StoreDir:        filepath.Join(dataHome, "nats-jetstream"),
		ServerName:      "kaijutsu_embedded_nats_server",
	}

	return newServerWithOptions(opts)
}

// NewTestServer creates a JetStream server instance with custom options,
// for tests that need an isolated store directory and port.
func NewTestServer(opts ServerOptions) (*Server, error) {
	return newServerWithOptions(opts)
}

func newServerWithOptions(opts ServerOptions) (*Server, error) {
	if opts.JetStreamMaxMemory == 0 {
		opts.JetStreamMaxMemory = 1024 * 1024 * 1024
	}
	if opts.JetStreamMaxStore == 0 {
		opts.JetStreamMaxStore = 20 * 1024 * 1024 * 1024
	}

	serverOpts := &server.Options{
		ServerName:         opts.ServerName,
		JetStream:          true,
		JetStreamDomain:    opts.JetStreamDomain,
		StoreDir:           opts.StoreDir,
		JetStreamMaxMemory: opts.JetStreamMaxMemory,
		JetStreamMaxStore:  opts.JetStreamMaxStore,
		Port:               opts.Port,
		DontListen:         false,
	}

	natsServer, err := server.NewServer(serverOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	natsServer.SetLogger(newNATSLogger(), false, false)

	return &Server{
		natsServer: natsServer,
		log:        log.With().Str("component", "jetstream-server").Logger(),
	}, nil
}

func (s *Server) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		s.natsServer.Start()
	})

	if !s.natsServer.ReadyForConnections(5 * time.Second) {
		return fmt.Errorf("NATS server failed to start within 5s timeout")
	}
	return nil
}

func (s *Server) Stop() error {
	s.natsServer.LameDuckShutdown()
	return nil
}

// ClientURL returns the address clients should dial to reach this server.
func (s *Server) ClientURL() string {
	return s.natsServer.ClientURL()
}

func newNATSLogger() server.Logger {
	return &natsLogger{log: log.With().Str("component", "nats").Logger().Level(zerolog.WarnLevel)}
}

type natsLogger struct {
	log zerolog.Logger
}

func (n *natsLogger) Noticef(format string, v ...interface{}) { n.log.Info().Msgf(format, v...) }
func (n *natsLogger) Warnf(format string, v ...interface{})   { n.log.Warn().Msgf(format, v...) }
func (n *natsLogger) Fatalf(format string, v ...interface{})  { n.log.Fatal().Msgf(format, v...) }
func (n *natsLogger) Errorf(format string, v ...interface{})  { n.log.Error().Msgf(format, v...) }
func (n *natsLogger) Debugf(format string, v ...interface{})  { n.log.Debug().Msgf(format, v...) }
func (n *natsLogger) Tracef(format string, v ...interface{})  { n.log.Trace().Msgf(format, v...) }
