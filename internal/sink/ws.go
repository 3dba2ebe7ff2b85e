package sink

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/cheese-observer/internal/domain"
	"github.com/park285/cheese-observer/pkg/observerdto"
)

// FrameWriter is the relay connection snapshots are written back to.
type FrameWriter interface {
	WriteJSON(ctx context.Context, v any) error
	Connected() bool
}

type transportMode string

const (
	transportHTTP transportMode = "http"
	transportWS   transportMode = "ws"
	transportAuto transportMode = "auto"
	transportNone transportMode = "none"
)

var errWSUnavailable = errors.New("ws egress not available")

// NewEgress picks the backend transport. In auto mode the relay socket is
// preferred while connected and HTTP is tried once when it fails.
func NewEgress(mode string, ws FrameWriter, http *HTTP, dryrun bool, logger *zap.Logger) (Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch transportMode(mode) {
	case transportNone:
		return Discard{}, nil
	case transportWS:
		if ws == nil {
			return nil, errWSUnavailable
		}
		return &WS{w: ws, dryrun: dryrun, logger: logger}, nil
	case transportAuto:
		if ws == nil || http == nil {
			return nil, errors.New("auto egress needs both ws and http")
		}
		return &Auto{ws: &WS{w: ws, dryrun: dryrun, logger: logger}, http: http, logger: logger}, nil
	case transportHTTP, "":
		if http == nil {
			return nil, errors.New("http egress not available")
		}
		return http, nil
	default:
		return nil, fmt.Errorf("unknown sink mode: %s", mode)
	}
}

// WS writes SNAPSHOT envelopes to the relay socket.
type WS struct {
	w      FrameWriter
	dryrun bool
	logger *zap.Logger
}

func (s *WS) Deliver(ctx context.Context, rec domain.Record) error {
	if s == nil || s.w == nil {
		return errWSUnavailable
	}
	if s.dryrun {
		s.logger.Info("ws_egress_dryrun", zap.Int("seq", rec.Snapshot.SequenceNumber))
		return nil
	}
	if !s.w.Connected() {
		return errors.New("ws not connected")
	}
	dto := observerdto.FromRecord(rec)
	return s.w.WriteJSON(ctx, observerdto.Envelope{Type: observerdto.EnvelopeSnapshot, Snapshot: &dto})
}

// Auto prefers WS with a single HTTP fallback.
type Auto struct {
	ws     *WS
	http   *HTTP
	logger *zap.Logger
}

func (a *Auto) Deliver(ctx context.Context, rec domain.Record) error {
	if a.ws != nil && a.ws.w != nil && a.ws.w.Connected() {
		err := a.ws.Deliver(ctx, rec)
		if err == nil {
			return nil
		}
		a.logger.Warn("egress_fallback", zap.Int("seq", rec.Snapshot.SequenceNumber), zap.Error(err))
	}
	return a.http.Deliver(ctx, rec)
}
