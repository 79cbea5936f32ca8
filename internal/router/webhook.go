package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rxtech-lab/argo-signals/internal/bus"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/internal/metrics"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"go.uber.org/zap"
)

const maxBody = 64 << 10

// FieldAppender appends a flat entry to a stream.
type FieldAppender interface {
	AppendFields(ctx context.Context, stream string, fields map[string]any) (string, error)
}

// WebhookRequest is the JSON body of POST /webhook_v2.
type WebhookRequest struct {
	Message string `json:"message" validate:"required"`
	Symbol  string `json:"symbol" validate:"required"`
	// Time is the bar time, RFC 3339 or epoch seconds/milliseconds.
	Time   json.RawMessage `json:"time"`
	SentAt json.RawMessage `json:"sent_at"`
}

// Webhook accepts signals over HTTP and appends them to signals_stream.
type Webhook struct {
	stream   FieldAppender
	validate *validator.Validate
	now      func() time.Time
	logger   *logger.Logger
}

func NewWebhook(stream FieldAppender, log *logger.Logger) *Webhook {
	return &Webhook{
		stream:   stream,
		validate: validator.New(),
		now:      time.Now,
		logger:   log.Named("webhook"),
	}
}

// Handler returns the webhook routes, /health and /metrics.
func (w *Webhook) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(metrics.Middleware)

	router.HandleFunc("/webhook_v2", w.handleJSON).Methods(http.MethodPost)
	router.HandleFunc("/webhook", w.handleText).Methods(http.MethodPost)
	router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return router
}

func handleHealth(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(rw, "OK")
}

func (w *Webhook) handleJSON(rw http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		http.Error(rw, "Invalid JSON body", http.StatusBadRequest)

		return
	}

	if err := w.validate.Struct(req); err != nil {
		http.Error(rw, "message and symbol are required", http.StatusBadRequest)

		return
	}

	barTime, err := rawTime(req.Time)
	if err != nil {
		http.Error(rw, "Invalid time", http.StatusBadRequest)

		return
	}

	sentAt, err := rawTime(req.SentAt)
	if err != nil {
		http.Error(rw, "Invalid sent_at", http.StatusBadRequest)

		return
	}

	sig := types.IncomingSignal{
		Message:    strings.TrimSpace(req.Message),
		Symbol:     req.Symbol,
		BarTime:    barTime,
		SentAt:     sentAt,
		ReceivedAt: w.now().UTC(),
	}

	id, ok := w.accept(rw, r, sig)
	if !ok {
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]string{"status": "accepted", "id": id})
}

// handleText accepts "<PHRASE> <SYMBOL>". The phrase may contain spaces; the
// symbol is the last token.
func (w *Webhook) handleText(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(rw, "Unreadable body", http.StatusBadRequest)

		return
	}

	tokens := strings.Fields(string(body))
	if len(tokens) < 2 {
		http.Error(rw, "Expected \"<PHRASE> <SYMBOL>\"", http.StatusBadRequest)

		return
	}

	now := w.now().UTC()
	sig := types.IncomingSignal{
		Message:    strings.Join(tokens[:len(tokens)-1], " "),
		Symbol:     tokens[len(tokens)-1],
		BarTime:    now.Truncate(time.Minute),
		SentAt:     now,
		ReceivedAt: now,
	}

	if _, ok := w.accept(rw, r, sig); !ok {
		return
	}

	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(rw, "Signal accepted")
}

func (w *Webhook) accept(rw http.ResponseWriter, r *http.Request, sig types.IncomingSignal) (string, bool) {
	id, err := w.stream.AppendFields(r.Context(), bus.StreamSignals, Fields(sig))
	if err != nil {
		w.logger.Error("Failed to enqueue signal",
			zap.String("phrase", sig.Message),
			zap.String("symbol", sig.Symbol),
			zap.Error(err),
		)
		http.Error(rw, "Signal queue unavailable", http.StatusServiceUnavailable)

		return "", false
	}

	w.logger.Info("Signal accepted",
		zap.String("phrase", sig.Message),
		zap.String("symbol", sig.Symbol),
		zap.String("id", id),
	)

	return id, true
}

// rawTime reads a JSON string or number as a time. null and absent are zero.
func rawTime(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// not a string, try the number form
		s = string(raw)
	}

	t, err := parseTime(s)
	if err != nil {
		return time.Time{}, errors.Wrap(errors.ErrCodeMalformedSignal, "unparseable time", err)
	}

	return t, nil
}

// Serve runs the webhook HTTP server on addr until ctx is done.
func (w *Webhook) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		w.logger.Info("Webhook listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}

		return err
	}
}
