package ingestion

import (
	"context"
	"hash/fnv"
	"sync"

	"SettleLedger/internal/event"
	"SettleLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Dispatcher is the routing entry point the lanes feed.
type Dispatcher interface {
	Dispatch(ctx context.Context, env *event.Envelope) error
}

// LanePool partitions messages by entity so that every message for one
// entity is processed in order on a single goroutine, while different
// entities proceed in parallel.
type LanePool struct {
	lanes    []chan RawMessage
	dispatch Dispatcher
	prefix   string
	metrics  *observability.Metrics
	logger   zerolog.Logger
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

type LaneConfig struct {
	Lanes     int
	QueueSize int
	Prefix    string
}

func NewLanePool(cfg LaneConfig, d Dispatcher, metrics *observability.Metrics, logger zerolog.Logger) *LanePool {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	p := &LanePool{
		lanes:    make([]chan RawMessage, cfg.Lanes),
		dispatch: d,
		prefix:   cfg.Prefix,
		metrics:  metrics,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	for i := range p.lanes {
		p.lanes[i] = make(chan RawMessage, cfg.QueueSize)
	}
	return p
}

// LaneFor returns the lane index for an entity token using FNV-1a.
func LaneFor(entity string, lanes int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(entity))
	return int(h.Sum32() % uint32(lanes))
}

// Start launches one worker per lane and a router draining in. Workers exit
// once the router stops (in closed, Stop called or ctx cancelled) and their
// lanes drain.
func (p *LanePool) Start(ctx context.Context, in <-chan RawMessage) {
	for i, lane := range p.lanes {
		p.wg.Add(1)
		go p.work(ctx, i, lane)
	}
	go p.route(ctx, in)
}

// Stop stops routing new messages. Messages already on a lane are still
// processed; messages left in the input are never acked and get redelivered.
func (p *LanePool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Wait blocks until every lane worker has exited.
func (p *LanePool) Wait() {
	p.wg.Wait()
}

func (p *LanePool) route(ctx context.Context, in <-chan RawMessage) {
	defer func() {
		for _, lane := range p.lanes {
			close(lane)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			idx := LaneFor(SubjectEntity(msg.Subject, p.prefix), len(p.lanes))
			select {
			case p.lanes[idx] <- msg:
				p.metrics.SetLaneDepth(idx, len(p.lanes[idx]))
			case <-ctx.Done():
				p.nak(msg)
				return
			case <-p.stop:
				p.nak(msg)
				return
			}
		}
	}
}

func (p *LanePool) work(ctx context.Context, idx int, lane <-chan RawMessage) {
	defer p.wg.Done()
	log := p.logger.With().Int("lane", idx).Logger()
	for msg := range lane {
		if ctx.Err() != nil {
			p.nak(msg)
			continue
		}
		p.metrics.SetLaneDepth(idx, len(lane))
		p.Process(ctx, msg, log)
	}
}

// Process decodes and dispatches one message, then acks it. Handler errors
// are logged by the dispatcher and do not cause redelivery.
func (p *LanePool) Process(ctx context.Context, msg RawMessage, log zerolog.Logger) {
	kind, _ := SubjectKind(msg.Subject, p.prefix)
	p.metrics.IncReceived(kind.String())

	env, err := ParseEnvelope(msg.Data)
	if err != nil {
		p.metrics.IncDecodeError(kind.String())
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("undecodable message dropped")
		p.ack(msg, log)
		return
	}

	if err := p.dispatch.Dispatch(ctx, env); err != nil {
		log.Debug().Err(err).Str("subject", msg.Subject).Str("op", env.Discriminator()).Msg("dispatch returned error, acking")
	}
	p.ack(msg, log)
}

func (p *LanePool) ack(msg RawMessage, log zerolog.Logger) {
	if msg.Ack == nil {
		return
	}
	if err := msg.Ack(); err != nil {
		p.metrics.IncAckError()
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("ack failed")
	}
}

func (p *LanePool) nak(msg RawMessage) {
	if msg.Nak != nil {
		_ = msg.Nak()
	}
}

// Lanes returns the number of lanes.
func (p *LanePool) Lanes() int {
	return len(p.lanes)
}
