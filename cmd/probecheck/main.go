package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/cheese-observer/internal/frame"
	"github.com/park285/cheese-observer/internal/msgcat"
	"github.com/park285/cheese-observer/internal/normalize"
	"github.com/park285/cheese-observer/internal/probe"
	"github.com/park285/cheese-observer/internal/reconcile"
	"github.com/park285/cheese-observer/internal/util"
)

// printer logs what the relay sends without reconciling it.
type printer struct {
	decoder *frame.Decoder
	catalog *msgcat.Catalog
}

func (p *printer) line(kind, text string) {
	if p.catalog != nil {
		if s, err := p.catalog.Render(msgcat.KeyProbeFrame, map[string]any{"Type": kind, "Text": text}); err == nil {
			log.Println(s)
			return
		}
	}
	log.Printf("[%s] %s", kind, util.Truncate(text, 160))
}

func (p *printer) SubmitDOM(_ context.Context, position string, page reconcile.PageDetector) error {
	u := reconcile.FromDOM(position, page)
	p.line(probe.TypeDOM, position)
	log.Printf("  mode=%s your_color=%s white=%s black=%s", util.Blank(string(u.Mode), "unknown"),
		util.Blank(string(u.YourColor), "unknown"), util.FormatClock(u.WhiteTime), util.FormatClock(u.BlackTime))
	return nil
}

func (p *printer) SubmitFrame(_ context.Context, text string) error {
	p.line(probe.TypeRaw, text)
	for i, c := range p.decoder.Decode(text) {
		u := normalize.Normalize(c)
		log.Printf("  candidate %d: fen=%q move=%q moves=%d white=%s black=%s", i, u.Position, u.Move,
			len(u.MoveList), util.FormatClock(u.WhiteTime), util.FormatClock(u.BlackTime))
	}
	return nil
}

func (p *printer) NewGame(context.Context) error {
	p.line(probe.TypeNewGame, "")
	return nil
}

func main() {
	wsURL := os.Getenv("PROBE_WS_URL")
	if wsURL == "" {
		log.Fatal("PROBE_WS_URL is required")
	}
	duration := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("PROBE_DURATION")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("PROBE_DURATION: %v", err)
		}
		duration = d
	}
	token := os.Getenv("PROBE_TOKEN")

	cat, err := msgcat.New(os.Getenv("PROBE_MESSAGES_DIR"))
	if err != nil {
		log.Printf("messages: %v (plain output)", err)
	}

	headers := func() map[string]string {
		m := map[string]string{}
		if token != "" {
			m["Authorization"] = "Bearer " + token
		}
		return m
	}
	client, err := probe.NewClient(wsURL, &printer{decoder: frame.NewDecoder(nil), catalog: cat},
		probe.WithHeaderProvider(headers),
		probe.WithReconnect(3, time.Second),
	)
	if err != nil {
		log.Fatalf("probe client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()
	start := time.Now()
	err = client.Run(ctx)
	log.Printf("probe check finished after %s: state=%s err=%v", time.Since(start).Round(time.Millisecond), client.State(), err)
}
