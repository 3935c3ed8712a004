package usage

import (
	"encoding/json"
	"net/http"

	"github.com/goodtune/scrollguard/internal/storage"
	"github.com/goodtune/scrollguard/internal/targets"
	"github.com/rs/zerolog"
)

// MaxRangeDays bounds the dates one /usage request may span.
const MaxRangeDays = 366

// Report is the JSON body served by the usage handler.
type Report struct {
	From    string                `json:"from"`
	To      string                `json:"to"`
	Groups  []GroupTotal          `json:"groups"`
	Total   Counters              `json:"total"`
	Records []storage.UsageRecord `json:"records"`
}

type handler struct {
	reader   *Reader
	registry *targets.Registry
	logger   zerolog.Logger
}

// NewHandler serves GET /usage?from=YYYY-MM-DD&to=YYYY-MM-DD from reader.
// Both bounds default to today.
func NewHandler(reader *Reader, registry *targets.Registry, logger zerolog.Logger) http.Handler {
	return &handler{
		reader:   reader,
		registry: registry,
		logger:   logger.With().Str("component", "usage-api").Logger(),
	}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" {
		from = h.reader.Today()
	}
	if to == "" {
		to = from
	}

	dates, err := storage.DatesBetween(from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(dates) > MaxRangeDays {
		http.Error(w, "range too long", http.StatusBadRequest)
		return
	}

	records, err := h.reader.Range(r.Context(), from, to)
	if err != nil {
		h.logger.Error().Err(err).Str("from", from).Str("to", to).Msg("Failed to read usage")
		http.Error(w, "failed to read usage", http.StatusInternalServerError)
		return
	}

	groups := GroupTotals(records, h.registry)
	report := Report{
		From:    from,
		To:      to,
		Groups:  groups,
		Total:   Sum(groups),
		Records: records,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Debug().Err(err).Msg("Failed to write usage response")
	}
}
