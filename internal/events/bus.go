package events

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"quorum/internal/config"
)

// Bus is the embedded NATS server carrying run lifecycle events between the
// consensus engine and the web layer. Events are ephemeral; nothing is
// persisted.
type Bus struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

func NewBus(cfg config.NATSConfig) (*Bus, error) {
	opts := &natsserver.Options{
		Port:   cfg.Port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("nats server not ready")
	}

	return &Bus{server: ns, cfg: cfg}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
