package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// Narrow source interfaces: the archiver only needs the read methods it
// actually calls, not the full tick log or strategy manager surfaces. The
// tick log and the manager satisfy these implicitly.

// TickSource provides cursor-based access to the in-process tick archive.
type TickSource interface {
	// ReadFrom returns ticks with sequence number >= seq, capped at limit,
	// plus the cursor for the next read.
	ReadFrom(seq int64, limit int) ([]domain.Tick, int64)
}

// ReportSource exposes the current strategy snapshots. Terminal snapshots
// become archived reports.
type ReportSource interface {
	List() []domain.StrategySnapshot
}

// ArchiverConfig controls upload cadence and chunking.
type ArchiverConfig struct {
	// Interval between archive sweeps. Defaults to 5 minutes.
	Interval time.Duration
	// ChunkSize is the maximum ticks per uploaded JSONL object.
	// Defaults to 5000.
	ChunkSize int
	// Prefix is the key prefix for all uploaded objects.
	// Defaults to "archive".
	Prefix string
}

func (c *ArchiverConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 5000
	}
	if c.Prefix == "" {
		c.Prefix = "archive"
	}
}

// Archiver periodically drains the tick log into JSONL chunks on object
// storage and uploads one report per completed or cancelled strategy.
// Uploads never delete anything from the sources; trimming the tick log is
// a separate, explicit step taken after the archive is verified.
type Archiver struct {
	cfg     ArchiverConfig
	writer  domain.BlobWriter
	ticks   TickSource
	reports ReportSource
	logger  *slog.Logger

	cursor   int64
	uploaded map[string]bool // strategy ids already archived
}

// NewArchiver creates an Archiver. reports may be nil when only tick
// archival is wanted.
func NewArchiver(cfg ArchiverConfig, writer domain.BlobWriter, ticks TickSource, reports ReportSource, logger *slog.Logger) *Archiver {
	cfg.applyDefaults()
	return &Archiver{
		cfg:      cfg,
		writer:   writer,
		ticks:    ticks,
		reports:  reports,
		logger:   logger.With(slog.String("component", "archiver")),
		uploaded: make(map[string]bool),
	}
}

// Cursor returns the sequence number the next tick sweep starts from.
func (a *Archiver) Cursor() int64 {
	return a.cursor
}

// Run sweeps on the configured interval until ctx is cancelled, then makes
// one final sweep so a clean shutdown leaves nothing behind in memory only.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if err := a.Sweep(flushCtx); err != nil {
				a.logger.Error("final archive sweep failed", slog.Any("error", err))
			}
			return ctx.Err()
		case <-ticker.C:
			if err := a.Sweep(ctx); err != nil {
				a.logger.Error("archive sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep uploads all pending tick chunks and any newly terminal strategy
// reports. A failed chunk upload leaves the cursor in place so the next
// sweep retries the same ticks.
func (a *Archiver) Sweep(ctx context.Context) error {
	if err := a.archiveTicks(ctx); err != nil {
		return err
	}
	return a.archiveReports(ctx)
}

func (a *Archiver) archiveTicks(ctx context.Context) error {
	for {
		chunk, next := a.ticks.ReadFrom(a.cursor, a.cfg.ChunkSize)
		if len(chunk) == 0 {
			return nil
		}

		buf, err := marshalTicksJSONL(chunk)
		if err != nil {
			return fmt.Errorf("s3blob: archive ticks marshal: %w", err)
		}

		// Sequence numbers survive tick log trims, so the same ticks
		// always land at the same key and a retried upload is idempotent.
		start := next - int64(len(chunk))
		path := fmt.Sprintf("%s/ticks/%s/%012d.jsonl",
			a.cfg.Prefix, chunk[0].ExchangeTS.Format("2006-01-02"), start)

		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return fmt.Errorf("s3blob: archive ticks upload: %w", err)
		}

		a.cursor = next
		a.logger.Info("archived tick chunk",
			slog.String("path", path),
			slog.Int("count", len(chunk)))
	}
}

func (a *Archiver) archiveReports(ctx context.Context) error {
	if a.reports == nil {
		return nil
	}
	for _, snap := range a.reports.List() {
		if !snap.Phase.Terminal() || a.uploaded[snap.ID] {
			continue
		}

		buf, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("s3blob: archive report %s marshal: %w", snap.ID, err)
		}

		path := fmt.Sprintf("%s/reports/%s/%s.json",
			a.cfg.Prefix, snap.CreatedAt.Format("2006-01-02"), snap.ID)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
			return fmt.Errorf("s3blob: archive report %s upload: %w", snap.ID, err)
		}

		a.uploaded[snap.ID] = true
		a.logger.Info("archived strategy report",
			slog.String("strategy_id", snap.ID),
			slog.String("path", path))
	}
	return nil
}

// archivedTick is the JSONL row shape for uploaded ticks.
type archivedTick struct {
	Instrument domain.InstrumentID `json:"instrument"`
	Price      float64             `json:"price"`
	ExchangeTS time.Time           `json:"exchange_ts"`
	ReceivedTS time.Time           `json:"received_ts"`
}

// marshalTicksJSONL serialises ticks as newline-delimited JSON, one compact
// line per tick.
func marshalTicksJSONL(ticks []domain.Tick) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, tk := range ticks {
		row := archivedTick{
			Instrument: tk.Instrument,
			Price:      tk.Price,
			ExchangeTS: tk.ExchangeTS,
			ReceivedTS: tk.ReceivedTS,
		}
		if err := enc.Encode(row); err != nil {
			return nil, fmt.Errorf("jsonl encode tick %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
