package coupler

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/tuna-marine/n2k-router/message"
	"github.com/tuna-marine/n2k-router/pgn"
	"github.com/tuna-marine/n2k-router/trace"
)

// LogReplayConfig controls how a LogReplayTransport paces record
// delivery against its recorded deltas.
type LogReplayConfig struct {
	Path string
	// RealTime replays each record's recorded delta as a real sleep;
	// when false (the default), records are delivered back-to-back as
	// fast as the consumer drains them.
	RealTime bool
}

// LogReplayTransport is a read-only Transport sourcing RawMessages from
// a log-replay file (spec §6 "log-replay files prefix each record with
// a monotonic-time delta and the original framed message").
type LogReplayTransport struct {
	config LogReplayConfig
	reader *trace.ReplayReader
}

// NewLogReplayTransport creates a transport that opens config.Path on
// the first Open call.
func NewLogReplayTransport(config LogReplayConfig) *LogReplayTransport {
	return &LogReplayTransport{config: config}
}

func (t *LogReplayTransport) Open(_ context.Context) bool {
	reader, err := trace.OpenReplayReader(t.config.Path)
	if err != nil {
		return false
	}
	t.reader = reader
	return true
}

func (t *LogReplayTransport) Close() error {
	if t.reader == nil {
		return nil
	}
	return t.reader.Close()
}

func (t *LogReplayTransport) ReadOne(ctx context.Context) (message.Envelope, error) {
	record, err := t.reader.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return message.Envelope{}, ErrReadError
		}
		return message.Envelope{}, ErrReadError
	}

	if t.config.RealTime && record.Delta > 0 {
		timer := time.NewTimer(record.Delta)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return message.Envelope{}, ErrTimeout
		case <-timer.C:
		}
	}

	raw, err := pgn.UnmarshalRawMessage(record.Line)
	if err != nil {
		return message.Envelope{}, ErrReadError
	}
	return message.FromRaw(raw), nil
}

// Send is a no-op: log replay is a read-only source.
func (t *LogReplayTransport) Send(_ context.Context, _ message.Envelope) bool { return false }

var _ Transport = (*LogReplayTransport)(nil)
