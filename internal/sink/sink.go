// Package sink delivers reconciled snapshots to their consumers.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"

	"github.com/park285/cheese-observer/internal/domain"
	"github.com/park285/cheese-observer/pkg/observerdto"
)

// Sink receives records in sequence order, one call per snapshot.
type Sink interface {
	Deliver(ctx context.Context, rec domain.Record) error
}

// Named labels a sink in fan-out errors and logs.
type Named struct {
	Name string
	Sink Sink
}

// Fanout delivers each record to every sink concurrently and waits for all of
// them, so per-sink order follows the caller's order.
type Fanout struct {
	sinks []Named
}

func NewFanout(sinks ...Named) *Fanout {
	out := make([]Named, 0, len(sinks))
	for _, s := range sinks {
		if s.Sink != nil {
			out = append(out, s)
		}
	}
	return &Fanout{sinks: out}
}

func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Deliver(ctx context.Context, rec domain.Record) error {
	errs := make([]error, len(f.sinks))
	var wg conc.WaitGroup
	for i, s := range f.sinks {
		wg.Go(func() {
			if err := s.Sink.Deliver(ctx, rec); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name, err)
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Discard drops every record.
type Discard struct{}

func (Discard) Deliver(context.Context, domain.Record) error { return nil }

// EncodeJSON marshals v without HTML escaping and without a trailing newline.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func encodeRecord(rec domain.Record) ([]byte, error) {
	b, err := EncodeJSON(observerdto.FromRecord(rec))
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

func decodeSnapshot(raw []byte) (observerdto.Snapshot, error) {
	var s observerdto.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return observerdto.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}
