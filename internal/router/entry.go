package router

import (
	"strconv"
	"strings"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/bus"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
)

// Flat field names of a signals_stream entry.
const (
	FieldMessage    = "message"
	FieldSymbol     = "symbol"
	FieldBarTime    = "bar_time"
	FieldSentAt     = "sent_at"
	FieldReceivedAt = "received_at"
)

// Fields renders sig as a flat signals_stream entry.
func Fields(sig types.IncomingSignal) map[string]any {
	return map[string]any{
		FieldMessage:    sig.Message,
		FieldSymbol:     sig.Symbol,
		FieldBarTime:    formatTime(sig.BarTime),
		FieldSentAt:     formatTime(sig.SentAt),
		FieldReceivedAt: formatTime(sig.ReceivedAt),
	}
}

// ParseEntry reads a signals_stream entry. Entries carry either the flat
// fields or a JSON payload field.
func ParseEntry(msg bus.StreamMessage) (types.IncomingSignal, error) {
	if _, ok := msg.Values[bus.PayloadField]; ok {
		var sig types.IncomingSignal
		if err := msg.Decode(&sig); err != nil {
			return sig, err
		}

		return sig, nil
	}

	sig := types.IncomingSignal{
		Message: strings.TrimSpace(msg.Values[FieldMessage]),
		Symbol:  msg.Values[FieldSymbol],
	}

	var err error

	if sig.BarTime, err = parseTime(msg.Values[FieldBarTime]); err != nil {
		return sig, errors.Wrapf(errors.ErrCodeMalformedSignal, err, "entry %s: bad bar_time", msg.ID)
	}

	if sig.SentAt, err = parseTime(msg.Values[FieldSentAt]); err != nil {
		return sig, errors.Wrapf(errors.ErrCodeMalformedSignal, err, "entry %s: bad sent_at", msg.ID)
	}

	if sig.ReceivedAt, err = parseTime(msg.Values[FieldReceivedAt]); err != nil {
		return sig, errors.Wrapf(errors.ErrCodeMalformedSignal, err, "entry %s: bad received_at", msg.ID)
	}

	return sig, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts RFC 3339 or epoch seconds/milliseconds. Empty is the zero time.
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// anything past 1e11 cannot be seconds
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}

		return time.Unix(n, 0).UTC(), nil
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}

	return t.UTC(), nil
}
