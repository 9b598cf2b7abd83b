package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunalnaik/strikewatch/internal/domain"
	"github.com/kunalnaik/strikewatch/internal/ticklog"
)

type putCall struct {
	path        string
	contentType string
	body        []byte
}

type fakeWriter struct {
	puts     []putCall
	failNext int
}

func (w *fakeWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if w.failNext > 0 {
		w.failNext--
		return errors.New("upload refused")
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.puts = append(w.puts, putCall{path: path, contentType: contentType, body: body})
	return nil
}

type fakeReports struct {
	snaps []domain.StrategySnapshot
}

func (r *fakeReports) List() []domain.StrategySnapshot {
	return append([]domain.StrategySnapshot(nil), r.snaps...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tickAt(id string, price float64, ts time.Time) domain.Tick {
	return domain.Tick{
		Instrument: domain.InstrumentID(id),
		Price:      price,
		ExchangeTS: ts,
		ReceivedTS: ts,
	}
}

func TestSweepUploadsTickChunksAsJSONL(t *testing.T) {
	day := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	log := ticklog.New(0, discardLogger())
	for i := 0; i < 5; i++ {
		tk := tickAt("NSE_FO|26200CE", 50.0+float64(i), day.Add(time.Duration(i)*time.Second))
		require.NoError(t, log.HandleTick(context.Background(), tk))
	}

	writer := &fakeWriter{}
	arch := NewArchiver(ArchiverConfig{ChunkSize: 2}, writer, log, nil, discardLogger())

	require.NoError(t, arch.Sweep(context.Background()))

	// 5 ticks with chunk size 2 make three objects.
	require.Len(t, writer.puts, 3)
	assert.Equal(t, "archive/ticks/2026-08-24/000000000000.jsonl", writer.puts[0].path)
	assert.Equal(t, "archive/ticks/2026-08-24/000000000002.jsonl", writer.puts[1].path)
	assert.Equal(t, "archive/ticks/2026-08-24/000000000004.jsonl", writer.puts[2].path)
	assert.Equal(t, int64(5), arch.Cursor())

	for _, put := range writer.puts {
		assert.Equal(t, "application/x-ndjson", put.contentType)
	}

	// Every line of the first chunk decodes back to a tick row.
	lines := strings.Split(strings.TrimSpace(string(writer.puts[0].body)), "\n")
	require.Len(t, lines, 2)
	var row archivedTick
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &row))
	assert.Equal(t, domain.InstrumentID("NSE_FO|26200CE"), row.Instrument)
	assert.Equal(t, 50.0, row.Price)
	assert.True(t, row.ExchangeTS.Equal(day))
}

func TestSweepWithNoNewTicksUploadsNothing(t *testing.T) {
	log := ticklog.New(0, discardLogger())
	writer := &fakeWriter{}
	arch := NewArchiver(ArchiverConfig{}, writer, log, nil, discardLogger())

	require.NoError(t, arch.Sweep(context.Background()))
	assert.Empty(t, writer.puts)
	assert.Equal(t, int64(0), arch.Cursor())
}

func TestFailedUploadKeepsCursorForRetry(t *testing.T) {
	day := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	log := ticklog.New(0, discardLogger())
	for i := 0; i < 3; i++ {
		tk := tickAt("NSE_FO|26200CE", 50.0, day.Add(time.Duration(i)*time.Second))
		require.NoError(t, log.HandleTick(context.Background(), tk))
	}

	writer := &fakeWriter{failNext: 1}
	arch := NewArchiver(ArchiverConfig{ChunkSize: 10}, writer, log, nil, discardLogger())

	require.Error(t, arch.Sweep(context.Background()))
	assert.Equal(t, int64(0), arch.Cursor())

	// The retry re-reads the same ticks and lands them at the same key.
	require.NoError(t, arch.Sweep(context.Background()))
	require.Len(t, writer.puts, 1)
	assert.Equal(t, "archive/ticks/2026-08-24/000000000000.jsonl", writer.puts[0].path)
	assert.Equal(t, int64(3), arch.Cursor())
}

func TestCursorStableAcrossTrim(t *testing.T) {
	day := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	log := ticklog.New(0, discardLogger())
	for i := 0; i < 4; i++ {
		tk := tickAt("NSE_FO|26200CE", 50.0, day.Add(time.Duration(i)*time.Minute))
		require.NoError(t, log.HandleTick(context.Background(), tk))
	}

	writer := &fakeWriter{}
	arch := NewArchiver(ArchiverConfig{ChunkSize: 10}, writer, log, nil, discardLogger())
	require.NoError(t, arch.Sweep(context.Background()))
	require.Equal(t, int64(4), arch.Cursor())

	log.TrimBefore(day.Add(2 * time.Minute))
	tk := tickAt("NSE_FO|26200CE", 51.0, day.Add(5*time.Minute))
	require.NoError(t, log.HandleTick(context.Background(), tk))

	require.NoError(t, arch.Sweep(context.Background()))
	require.Len(t, writer.puts, 2)
	assert.Equal(t, "archive/ticks/2026-08-24/000000000004.jsonl", writer.puts[1].path)

	lines := strings.Split(strings.TrimSpace(string(writer.puts[1].body)), "\n")
	require.Len(t, lines, 1)
	var row archivedTick
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &row))
	assert.Equal(t, 51.0, row.Price)
}

func TestTerminalStrategiesArchivedOnce(t *testing.T) {
	created := time.Date(2026, 8, 24, 9, 45, 0, 0, time.UTC)
	selected := domain.InstrumentID("NSE_FO|26200CE")
	reports := &fakeReports{snaps: []domain.StrategySnapshot{
		{ID: "s-done", Phase: domain.PhaseCompleted, CreatedAt: created, Selected: &selected, EntryPrice: 48.75},
		{ID: "s-live", Phase: domain.PhaseMonitoring, CreatedAt: created},
	}}

	log := ticklog.New(0, discardLogger())
	writer := &fakeWriter{}
	arch := NewArchiver(ArchiverConfig{}, writer, log, reports, discardLogger())

	require.NoError(t, arch.Sweep(context.Background()))
	require.Len(t, writer.puts, 1)
	assert.Equal(t, "archive/reports/2026-08-24/s-done.json", writer.puts[0].path)
	assert.Equal(t, "application/json", writer.puts[0].contentType)

	var snap domain.StrategySnapshot
	require.NoError(t, json.Unmarshal(writer.puts[0].body, &snap))
	assert.Equal(t, "s-done", snap.ID)
	require.NotNil(t, snap.Selected)
	assert.Equal(t, selected, *snap.Selected)

	// A second sweep does not re-upload; a newly terminal strategy does go up.
	reports.snaps[1].Phase = domain.PhaseCancelled
	require.NoError(t, arch.Sweep(context.Background()))
	require.Len(t, writer.puts, 2)
	assert.Equal(t, "archive/reports/2026-08-24/s-live.json", writer.puts[1].path)
}

func TestMarshalTicksJSONLDoesNotEscapeHTML(t *testing.T) {
	ts := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	buf, err := marshalTicksJSONL([]domain.Tick{tickAt("NSE_FO|26200CE<>&", 50.0, ts)})
	require.NoError(t, err)
	assert.True(t, bytes.Contains(buf, []byte("NSE_FO|26200CE<>&")), "raw instrument id expected, got %s", buf)
	assert.Equal(t, 1, bytes.Count(buf, []byte("\n")))
}

func TestArchiverConfigDefaults(t *testing.T) {
	cfg := ArchiverConfig{}
	cfg.applyDefaults()
	assert.Equal(t, 5*time.Minute, cfg.Interval)
	assert.Equal(t, 5000, cfg.ChunkSize)
	assert.Equal(t, "archive", cfg.Prefix)
}
