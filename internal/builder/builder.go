package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/park285/cheese-observer/internal/api"
	"github.com/park285/cheese-observer/internal/config"
	"github.com/park285/cheese-observer/internal/frame"
	"github.com/park285/cheese-observer/internal/msgcat"
	"github.com/park285/cheese-observer/internal/probe"
	"github.com/park285/cheese-observer/internal/reconcile"
	"github.com/park285/cheese-observer/internal/sink"
)

type Deps struct {
	Config     *config.AppConfig
	Reconciler *reconcile.Reconciler
	Hub        *reconcile.Hub
	Probe      *probe.Client
	API        *api.Server

	Memory  *sink.Memory
	HTTP    *sink.HTTP
	Redis   *sink.Redis
	Archive *sink.Archive
	Console *sink.Console

	logger  *zap.Logger
	closers []func() error
}

// hubRef lets the probe client exist before the hub it feeds.
type hubRef struct {
	mu  sync.RWMutex
	hub *reconcile.Hub
}

func (h *hubRef) get() (*reconcile.Hub, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.hub == nil {
		return nil, reconcile.ErrHubClosed
	}
	return h.hub, nil
}

func (h *hubRef) SubmitDOM(ctx context.Context, position string, page reconcile.PageDetector) error {
	hub, err := h.get()
	if err != nil {
		return err
	}
	return hub.SubmitDOM(ctx, position, page)
}

func (h *hubRef) SubmitFrame(ctx context.Context, text string) error {
	hub, err := h.get()
	if err != nil {
		return err
	}
	return hub.SubmitFrame(ctx, text)
}

func (h *hubRef) NewGame(ctx context.Context) error {
	hub, err := h.get()
	if err != nil {
		return err
	}
	return hub.NewGame(ctx)
}

// New wires every component named by cfg. Close releases what it opened.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{Config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	ref := &hubRef{}
	if cfg.ProbeWSURL != "" {
		headers := cfg.Headers()
		c, err := probe.NewClient(cfg.ProbeWSURL, ref,
			probe.WithHeaderProvider(func() map[string]string { return headers }),
			probe.WithLogger(logger.Named("probe")),
		)
		if err != nil {
			return nil, fmt.Errorf("init probe: %w", err)
		}
		d.Probe = c
	}

	sinks := []sink.Named{}
	d.Memory = sink.NewMemory(cfg.MaxLogs)
	sinks = append(sinks, sink.Named{Name: "memory", Sink: d.Memory})

	if cfg.SinkMode == "http" || cfg.SinkMode == "auto" {
		h, err := sink.NewHTTP(cfg.SinkURL,
			sink.WithTimeout(time.Duration(cfg.SinkTimeoutMS)*time.Millisecond),
			sink.WithRetry(cfg.SinkRetry),
			sink.WithRateLimit(cfg.SinkRPS),
		)
		if err != nil {
			return nil, fmt.Errorf("init http sink: %w", err)
		}
		d.HTTP = h
	}
	var writer sink.FrameWriter
	if d.Probe != nil {
		writer = d.Probe
	}
	egress, err := sink.NewEgress(cfg.SinkMode, writer, d.HTTP, cfg.SinkDryRun, logger.Named("egress"))
	if err != nil {
		return nil, fmt.Errorf("init egress: %w", err)
	}
	sinks = append(sinks, sink.Named{Name: "egress", Sink: egress})

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		d.closers = append(d.closers, rdb.Close)
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		d.Redis = sink.NewRedis(rdb, "obs", cfg.MaxLogs)
		sinks = append(sinks, sink.Named{Name: "redis", Sink: d.Redis})
	}

	if cfg.ArchiveDSN != "" {
		a, err := sink.OpenArchive(ctx, cfg.ArchiveDriver, cfg.ArchiveDSN)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		d.Archive = a
		d.closers = append(d.closers, a.Close)
		sinks = append(sinks, sink.Named{Name: "archive", Sink: a})
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	d.Console = sink.NewConsole(cat, logger.Named("console"), cfg.ShowDebug)
	sinks = append(sinks, sink.Named{Name: "console", Sink: d.Console})

	d.Reconciler = reconcile.New(reconcile.WithLogger(logger.Named("reconcile")))
	hub, err := reconcile.NewHub(d.Reconciler, frame.NewDecoder(logger.Named("frame")), sink.NewFanout(sinks...), cfg.QueueSize, logger.Named("hub"))
	if err != nil {
		return nil, err
	}
	d.Hub = hub
	ref.mu.Lock()
	ref.hub = hub
	ref.mu.Unlock()

	if cfg.HTTPAddr != "" {
		opts := []api.Option{api.WithLogger(logger.Named("api"))}
		if d.HTTP != nil {
			opts = append(opts, api.WithSinkStatus(d.HTTP.Status))
		}
		srv, err := api.New(hub, d.Memory, opts...)
		if err != nil {
			return nil, err
		}
		d.API = srv
	}
	ok = true
	return d, nil
}

// Run drives the hub, probe client and API until ctx ends or one of them fails.
func (d *Deps) Run(ctx context.Context) error {
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		if err := d.Hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if d.Probe != nil {
		p.Go(func(ctx context.Context) error {
			if err := d.Probe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if d.API != nil {
		addr := strings.TrimSpace(d.Config.HTTPAddr)
		p.Go(func(ctx context.Context) error { return d.API.ListenAndServe(ctx, addr) })
	}
	return p.Wait()
}

func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
