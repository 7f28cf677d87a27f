package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/polysniper/polysniper/internal/domain"
)

// Archiver serialises a trading session's lifecycle history to JSONL and
// uploads it to object storage. Archives are write-once evidence of what the
// bot did and why; nothing in the trading path reads them back.
type Archiver struct {
	writer *Writer
	logger *slog.Logger
}

// NewArchiver creates an Archiver uploading through the given writer.
func NewArchiver(writer *Writer, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// marketRecord is one archived market with its full transition history.
type marketRecord struct {
	ID           string             `json:"id"`
	Question     string             `json:"question,omitempty"`
	TokenID      string             `json:"token_id"`
	State        string             `json:"state"`
	ResolutionAt time.Time          `json:"resolution_at"`
	AllocatedUSD float64            `json:"allocated_usd"`
	OrdersPlaced int                `json:"orders_placed"`
	RealizedPnL  float64            `json:"realized_pnl"`
	Failures     int                `json:"failures"`
	Transitions  []transitionRecord `json:"transitions"`
}

type transitionRecord struct {
	At     time.Time `json:"at"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
}

// ArchiveSession uploads the session's markets and recycle history as two
// JSONL objects under sessions/<date>/<sessionID>/. It returns the key
// prefix the objects were written under.
func (a *Archiver) ArchiveSession(ctx context.Context, sessionID string, markets []domain.Market, recycles []domain.RecycleEvent) (string, error) {
	prefix := fmt.Sprintf("sessions/%s/%s", time.Now().UTC().Format("2006-01-02"), sessionID)

	records := make([]marketRecord, 0, len(markets))
	for _, mk := range markets {
		rec := marketRecord{
			ID:           mk.ID,
			Question:     mk.Question,
			TokenID:      mk.TokenID,
			State:        string(mk.State),
			ResolutionAt: mk.ResolutionAt,
			AllocatedUSD: mk.AllocatedUSD,
			OrdersPlaced: mk.OrdersPlaced,
			RealizedPnL:  mk.RealizedPnL,
			Failures:     mk.Failures,
		}
		for _, tr := range mk.Transitions {
			rec.Transitions = append(rec.Transitions, transitionRecord{
				At:     tr.At,
				From:   string(tr.From),
				To:     string(tr.To),
				Reason: tr.Reason,
			})
		}
		records = append(records, rec)
	}

	if err := putJSONL(ctx, a.writer, prefix+"/markets.jsonl", records); err != nil {
		return "", fmt.Errorf("s3blob: archive markets: %w", err)
	}
	if err := putJSONL(ctx, a.writer, prefix+"/recycles.jsonl", recycles); err != nil {
		return "", fmt.Errorf("s3blob: archive recycles: %w", err)
	}

	a.logger.Info("session archived",
		slog.String("prefix", prefix),
		slog.Int("markets", len(records)),
		slog.Int("recycles", len(recycles)),
	)
	return prefix, nil
}

func putJSONL[T any](ctx context.Context, w *Writer, key string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return err
	}
	return w.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson")
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
