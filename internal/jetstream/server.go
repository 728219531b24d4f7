package jetstream

import (
	"errors"
	"fmt"
	"time"

	server "github.com/nats-io/nats-server/v2/server"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Server is an in-process NATS server with JetStream and one client
// connection to it.
type Server struct {
	ns *server.Server
	nc *nats.Conn
	js nats.JetStreamContext
}

// Start boots the embedded server with file storage under storeDir and
// makes sure the mirror stream exists.
func Start(storeDir string) (*Server, error) {
	ns, err := server.NewServer(&server.Options{
		DontListen: true,
		JetStream:  true,
		StoreDir:   storeDir,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("nats server not ready")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.InProcessServer(ns))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connect to embedded nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if err := EnsureStream(js); err != nil {
		nc.Close()
		ns.Shutdown()
		return nil, err
	}

	log.Info().Str("store_dir", storeDir).Str("stream", StreamName).Msg("embedded nats started")
	return &Server{ns: ns, nc: nc, js: js}, nil
}

func (s *Server) JetStream() nats.JetStreamContext { return s.js }

func (s *Server) Close() {
	if err := s.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("draining nats connection failed")
	}
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
