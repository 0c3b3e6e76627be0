package broadcast

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/shuvam773/kanban/domain"
)

const exportTimeout = 10 * time.Second

// Relay carries encoded events between instances.
type Relay interface {
	Publish(ctx context.Context, boardID string, data []byte) error
	Run(ctx context.Context, boardID string, deliver func([]byte))
}

// Exporter receives a copy of every encoded event.
type Exporter interface {
	Export(ctx context.Context, data []byte) error
}

// Gateway stamps committed mutations with a board version and delivers them
// to every connection in the board room. Publish never fails the caller.
type Gateway struct {
	hub     *Hub
	seq     Sequencer
	relay   Relay
	sink    Exporter
	exports *exportPool
	log     *log.Logger

	exportWorkers int
	exportBuffer  int
	exportHandoff time.Duration
}

type Option func(*Gateway)

// WithRelay routes events through r instead of delivering them locally.
func WithRelay(r Relay) Option { return func(g *Gateway) { g.relay = r } }

// WithSequencer replaces the in-process version counter.
func WithSequencer(s Sequencer) Option { return func(g *Gateway) { g.seq = s } }

// WithExporter copies every event to e from a pool of background workers.
func WithExporter(e Exporter) Option { return func(g *Gateway) { g.sink = e } }

// WithExportPool sizes the export workers and their queue. Events arriving
// while the queue stays full for longer than handoff are dropped.
func WithExportPool(workers, buffer int, handoff time.Duration) Option {
	return func(g *Gateway) {
		g.exportWorkers = workers
		g.exportBuffer = buffer
		g.exportHandoff = handoff
	}
}

func NewGateway(hub *Hub, logger *log.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = log.StandardLogger()
	}
	g := &Gateway{
		hub:           hub,
		seq:           NewLocalSequencer(),
		log:           logger,
		exportWorkers: defaultExportWorkers,
		exportBuffer:  defaultExportBuffer,
		exportHandoff: defaultExportHandoff,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.sink != nil {
		g.exports = newExportPool(g.sink, g.exportWorkers, g.exportBuffer, g.exportHandoff, logger)
	}
	return g
}

// Close flushes pending exports.
func (g *Gateway) Close() {
	if g.exports != nil {
		g.exports.close()
	}
}

// Publish broadcasts ev to the board room of ev.BoardID. Failures are logged.
func (g *Gateway) Publish(ctx context.Context, ev domain.Event) {
	fields := log.Fields{"board": ev.BoardID, "event": ev.Type}
	version, err := g.seq.Next(ctx, ev.BoardID)
	if err != nil {
		// Version 0 tells clients the event carries no ordering information.
		g.log.WithError(err).WithFields(fields).Warn("version sequencer unavailable")
		version = 0
	}
	ev.Version = version
	data, err := sonic.Marshal(ev)
	if err != nil {
		g.log.WithError(err).WithFields(fields).Error("encode event")
		return
	}
	fields["version"] = version

	if g.relay != nil {
		if err := g.relay.Publish(ctx, ev.BoardID, data); err != nil {
			g.log.WithError(err).WithFields(fields).Error("relay publish failed; delivering locally")
			g.hub.Broadcast(ev.BoardID, Message{Version: version, Type: ev.Type, Data: data})
		}
	} else {
		g.hub.Broadcast(ev.BoardID, Message{Version: version, Type: ev.Type, Data: data})
	}
	g.log.WithFields(fields).Debug("event published")

	if g.exports != nil && !g.exports.submit(exportJob{data: data, fields: fields}) {
		g.log.WithFields(fields).Warn("export queue full; event not exported")
	}
}

// deliver hands a relayed event to the local hub.
func (g *Gateway) deliver(data []byte) {
	var head struct {
		Type    domain.EventType `json:"type"`
		BoardID string           `json:"boardId"`
		Version int64            `json:"version"`
	}
	if err := sonic.Unmarshal(data, &head); err != nil {
		g.log.WithError(err).Error("unable to parse relayed event")
		return
	}
	g.hub.Broadcast(head.BoardID, Message{Version: head.Version, Type: head.Type, Data: data})
}

// Run pumps relayed events into the hub until ctx is done. Without a relay
// it returns immediately.
func (g *Gateway) Run(ctx context.Context, boardID string) {
	if g.relay == nil {
		return
	}
	g.relay.Run(ctx, boardID, g.deliver)
}

// Subscribe joins connID to the board room.
func (g *Gateway) Subscribe(boardID, connID string) *Subscription {
	return g.hub.Join(boardID, connID)
}

// Unsubscribe removes connID from the board room.
func (g *Gateway) Unsubscribe(boardID, connID string) {
	g.hub.Leave(boardID, connID)
}

// Version returns the latest version issued for the board, or 0 when the
// sequencer cannot be reached.
func (g *Gateway) Version(ctx context.Context, boardID string) int64 {
	v, err := g.seq.Current(ctx, boardID)
	if err != nil {
		g.log.WithError(err).WithField("board", boardID).Warn("read board version")
		return 0
	}
	return v
}
