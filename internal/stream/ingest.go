// Package stream turns a newline-delimited JSON chat response into a
// sequence of cumulative, normalized display snapshots.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/strrl/mathchat/internal/normalize"
	"github.com/strrl/mathchat/pkg/models"
)

const meterName = "github.com/strrl/mathchat/internal/stream"

// Observer receives every snapshot as it is produced
type Observer interface {
	OnSnapshot(text string)
}

// ObserverFunc adapts a plain function to Observer
type ObserverFunc func(text string)

// OnSnapshot calls f(text)
func (f ObserverFunc) OnSnapshot(text string) { f(text) }

// Result summarizes one ingested response
type Result struct {
	Text      string // Normalize(Raw), the last emitted snapshot
	Raw       string
	ChatID    *int64
	Fragments int
	Malformed int
	Done      bool
}

// Ingestor reads one streamed chat response
type Ingestor struct {
	logger    *slog.Logger
	normalize func(string) string
	tap       io.Writer

	fragments metric.Int64Counter
	malformed metric.Int64Counter
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithLogger sets the logger used for skipped lines and read failures
func WithLogger(logger *slog.Logger) Option {
	return func(in *Ingestor) { in.logger = logger }
}

// WithTap copies every successfully parsed line, one per line, to w
func WithTap(w io.Writer) Option {
	return func(in *Ingestor) { in.tap = w }
}

// WithNormalizer replaces normalize.Normalize
func WithNormalizer(fn func(string) string) Option {
	return func(in *Ingestor) { in.normalize = fn }
}

// NewIngestor creates an Ingestor
func NewIngestor(opts ...Option) *Ingestor {
	in := &Ingestor{
		logger:    slog.Default(),
		normalize: normalize.Normalize,
	}
	for _, opt := range opts {
		opt(in)
	}

	meter := otel.Meter(meterName)
	in.fragments, _ = meter.Int64Counter(
		"mathchat.stream.fragments",
		metric.WithDescription("Response fragments appended to the transcript"),
	)
	in.malformed, _ = meter.Int64Counter(
		"mathchat.stream.malformed_lines",
		metric.WithDescription("Stream lines skipped because they were not valid JSON"),
	)
	return in
}

// Ingest consumes r until EOF. Every fragment that is not marked done is
// appended to the accumulator and the normalized accumulator is handed to
// obs. A malformed line is logged and skipped. A read failure ends the
// ingestion and is returned together with everything collected so far.
func (in *Ingestor) Ingest(ctx context.Context, r io.Reader, obs Observer) (Result, error) {
	// The decoder keeps incomplete multi-byte sequences between reads.
	reader := bufio.NewReader(transform.NewReader(r, unicode.UTF8.NewDecoder()))

	var (
		res Result
		raw strings.Builder
	)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		line, err := reader.ReadString('\n')
		if line != "" {
			in.handleLine(ctx, line, &res, &raw, obs)
		}
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			in.logger.Error("Failed to read response stream", "error", err, "fragments", res.Fragments)
			return res, fmt.Errorf("failed to read response stream: %w", err)
		}
	}
}

func (in *Ingestor) handleLine(ctx context.Context, line string, res *Result, raw *strings.Builder, obs Observer) {
	text := stripQuoting(strings.TrimSpace(line))
	if text == "" {
		return
	}

	frag, hasResponse, err := decodeFragment(text)
	if err != nil {
		res.Malformed++
		in.malformed.Add(ctx, 1)
		in.logger.Warn("Skipping malformed stream line", "error", err, "line", truncate(text, 120))
		return
	}

	if in.tap != nil {
		if _, err := io.WriteString(in.tap, text+"\n"); err != nil {
			in.logger.Debug("Failed to write stream capture", "error", err)
		}
	}

	if frag.ChatID != nil {
		id := *frag.ChatID
		res.ChatID = &id
	}
	if frag.Done {
		res.Done = true
		return
	}
	if res.Done || !hasResponse {
		return
	}

	raw.WriteString(frag.Response)
	res.Fragments++
	res.Raw = raw.String()
	res.Text = in.normalize(res.Raw)
	in.fragments.Add(ctx, 1)
	if obs != nil {
		obs.OnSnapshot(res.Text)
	}
}

type wireFragment struct {
	Response *string   `json:"response"`
	Done     bool      `json:"done"`
	ChatID   lenientID `json:"chat_id"`
}

// lenientID accepts a chat id sent as a JSON number or a numeric string.
// Any other value leaves it unset instead of failing the whole line.
type lenientID struct {
	value *int64
}

func (id *lenientID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		id.value = &n
	}
	return nil
}

// decodeFragment parses one stripped line. hasResponse is false for
// metadata-only objects such as the trailing {"chat_id": ...}.
func decodeFragment(text string) (models.StreamFragment, bool, error) {
	var w wireFragment
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return models.StreamFragment{}, false, err
	}

	frag := models.StreamFragment{Done: w.Done, ChatID: w.ChatID.value}
	if w.Response != nil {
		frag.Response = *w.Response
	}
	return frag, w.Response != nil, nil
}

// stripQuoting removes the b'...' wrapper some servers leave around
// serialized byte strings.
func stripQuoting(s string) string {
	s = strings.TrimPrefix(s, "b'")
	return strings.TrimSuffix(s, "'")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
