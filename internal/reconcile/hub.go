package reconcile

import (
	"context"
	"errors"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/park285/cheese-observer/internal/domain"
	"github.com/park285/cheese-observer/internal/frame"
	"github.com/park285/cheese-observer/internal/normalize"
)

// Sink receives emitted records in sequence order.
type Sink interface {
	Deliver(ctx context.Context, rec domain.Record) error
}

var ErrHubClosed = errors.New("hub is not running")

type eventKind int

const (
	eventUpdate eventKind = iota
	eventFrame
	eventNewGame
)

type event struct {
	kind   eventKind
	update domain.PartialUpdate
	frame  string
}

// Hub runs all ingestion on one goroutine and delivers records on another.
type Hub struct {
	rec     *Reconciler
	decoder *frame.Decoder
	sink    Sink
	logger  *zap.Logger

	events  chan event
	records chan domain.Record
	done    chan struct{}
}

func NewHub(rec *Reconciler, decoder *frame.Decoder, sink Sink, queueSize int, logger *zap.Logger) (*Hub, error) {
	if rec == nil {
		return nil, errors.New("reconciler is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if decoder == nil {
		decoder = frame.NewDecoder(logger)
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{
		rec:     rec,
		decoder: decoder,
		sink:    sink,
		logger:  logger,
		events:  make(chan event, queueSize),
		records: make(chan domain.Record, queueSize),
		done:    make(chan struct{}),
	}, nil
}

// SubmitDOM reads page facts now and queues the DOM observation.
func (h *Hub) SubmitDOM(ctx context.Context, position string, page PageDetector) error {
	return h.submit(ctx, event{kind: eventUpdate, update: FromDOM(position, page)})
}

// SubmitUpdate queues an already normalized update.
func (h *Hub) SubmitUpdate(ctx context.Context, u domain.PartialUpdate) error {
	return h.submit(ctx, event{kind: eventUpdate, update: u})
}

// SubmitFrame queues one raw socket frame.
func (h *Hub) SubmitFrame(ctx context.Context, text string) error {
	return h.submit(ctx, event{kind: eventFrame, frame: text})
}

// NewGame queues a reset behind everything already submitted.
func (h *Hub) NewGame(ctx context.Context) error {
	return h.submit(ctx, event{kind: eventNewGame})
}

func (h *Hub) submit(ctx context.Context, ev event) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.events <- ev:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run blocks until ctx is cancelled. Records already emitted are still
// delivered before Run returns.
func (h *Hub) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	wg.Go(func() { h.deliverLoop(context.WithoutCancel(ctx)) })
	h.ingestLoop(ctx)
	close(h.done)
	close(h.records)
	wg.Wait()
	return ctx.Err()
}

func (h *Hub) ingestLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

func (h *Hub) handle(ev event) {
	switch ev.kind {
	case eventNewGame:
		h.rec.NewGame()
	case eventUpdate:
		h.ingest(ev.update)
	case eventFrame:
		candidates := h.decoder.Decode(ev.frame)
		for _, c := range candidates {
			h.ingest(normalize.Normalize(c))
		}
	}
}

func (h *Hub) ingest(u domain.PartialUpdate) {
	snap, ok := h.rec.Ingest(u)
	if !ok {
		return
	}
	h.records <- domain.Record{GameID: h.rec.GameID(), Snapshot: snap}
}

func (h *Hub) deliverLoop(ctx context.Context) {
	for rec := range h.records {
		if err := h.sink.Deliver(ctx, rec); err != nil {
			h.logger.Warn("sink_deliver_error",
				zap.String("game_id", rec.GameID),
				zap.Int("seq", rec.Snapshot.SequenceNumber),
				zap.Error(err),
			)
		}
	}
}
