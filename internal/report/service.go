// Package report provides the HTTP handlers that run the lot processor over
// submitted transactions, persist the result and export it as Form 8949.
//
// All amounts and prices use shopspring/decimal, never float64.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ethlots/tax-engine/internal/exchange"
	"github.com/ethlots/tax-engine/internal/form8949"
	"github.com/ethlots/tax-engine/internal/lot"
	"github.com/ethlots/tax-engine/internal/metrics"
	"github.com/ethlots/tax-engine/internal/model"
	"github.com/ethlots/tax-engine/internal/policy"
	"github.com/ethlots/tax-engine/internal/processor"
	"github.com/ethlots/tax-engine/internal/schedule"
	"github.com/ethlots/tax-engine/internal/store"
	"github.com/ethlots/tax-engine/internal/subunit"
)

// Transaction type names accepted in requests.
const (
	TypeAcquire = "acquire"
	TypeDispose = "dispose"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Service computes and serves reports. Each request runs its own processor,
// so handlers need no shared lock.
type Service struct {
	store    store.Store
	defaults schedule.Schedule
	asset    subunit.Asset
	wsHub    *WSHub // optional WebSocket hub for report notifications
}

// NewService creates a report service. defaults supplies the method for any
// tax year a request does not name. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, defaults schedule.Schedule, asset subunit.Asset, hub *WSHub) *Service {
	return &Service{
		store:    st,
		defaults: defaults,
		asset:    asset,
		wsHub:    hub,
	}
}

// --- Request/Response types ---

// TransactionRequest is one acquisition or disposal. UnitPrice is in currency
// subunits per whole asset unit: cost including fees for an acquisition,
// proceeds excluding fees for a disposal.
type TransactionRequest struct {
	Type           string          `json:"type"` // "acquire" or "dispose"
	Time           time.Time       `json:"time"`
	AmountSubunits decimal.Decimal `json:"amount_subunits"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
}

// CreateReportRequest is the JSON body for POST /reports.
type CreateReportRequest struct {
	Owner        string                `json:"owner"`
	Asset        *subunit.Asset        `json:"asset,omitempty"`
	Policies     map[int]policy.Method `json:"policies"` // {"2022": "fifo"}
	Transactions []TransactionRequest  `json:"transactions"`
}

// ReportResponse is a full report with its per-year Form 8949 totals.
type ReportResponse struct {
	*model.Report
	Summary []form8949.YearSummary `json:"summary"`
}

// --- HTTP Handlers ---

// CreateReport handles POST /api/v1/reports
// Runs the processor over the submitted transactions and persists the result.
func (s *Service) CreateReport(w http.ResponseWriter, r *http.Request) {
	var req CreateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.ReportsTotal.WithLabelValues("invalid").Inc()
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.Owner == "" {
		metrics.ReportsTotal.WithLabelValues("invalid").Inc()
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}
	asset, err := s.resolveAsset(req.Asset)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("invalid").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sched, err := s.resolveSchedule(req.Policies)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("invalid").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	txs, err := toTransactions(req.Transactions)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("invalid").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	policies, err := sched.Policies()
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("invalid").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// --- Processing ---
	p := processor.New(txs, policies, processor.WithAsset(asset), processor.WithLogger(slog.Default()))
	realized, err := p.Run()
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("rejected").Inc()
		slog.Info("report rejected", "owner", req.Owner, "err", err)
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	recordRun(p.Stats(), realized)

	report := &model.Report{
		ID:           uuid.New().String(),
		Owner:        req.Owner,
		Asset:        asset,
		Policies:     sched,
		Transactions: len(txs),
		Realized:     realized,
		OpenLots:     p.OpenLots(),
		CreatedAt:    time.Now().UTC(),
	}
	resp, err := newReportResponse(report)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("rejected").Inc()
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if err := s.store.CreateReport(r.Context(), report); err != nil {
		metrics.ReportsTotal.WithLabelValues("failed").Inc()
		slog.Error("persist report", "id", report.ID, "err", err)
		writeError(w, "failed to persist report", http.StatusInternalServerError)
		return
	}
	metrics.ReportsTotal.WithLabelValues("created").Inc()

	slog.Info("report created",
		"id", report.ID,
		"owner", report.Owner,
		"transactions", report.Transactions,
		"realized", len(report.Realized),
		"policies", sched.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:          "report_created",
			ReportID:      report.ID,
			Owner:         report.Owner,
			RealizedCount: len(report.Realized),
			OpenAmount:    report.OpenAmount().String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// GetReport handles GET /api/v1/reports/{reportID}
func (s *Service) GetReport(w http.ResponseWriter, r *http.Request) {
	report, ok := s.loadReport(w, r)
	if !ok {
		return
	}
	resp, err := newReportResponse(report)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListReports handles GET /api/v1/reports
// Returns report headers, optionally filtered by ?owner=<owner>.
func (s *Service) ListReports(w http.ResponseWriter, r *http.Request) {
	var headers []model.Header
	var err error
	if owner := r.URL.Query().Get("owner"); owner != "" {
		headers, err = s.store.ListReportsByOwner(r.Context(), owner)
	} else {
		headers, err = s.store.ListReports(r.Context())
	}
	if err != nil {
		writeError(w, "failed to list reports", http.StatusInternalServerError)
		return
	}
	if headers == nil {
		headers = []model.Header{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(headers)
}

// DeleteReport handles DELETE /api/v1/reports/{reportID}
func (s *Service) DeleteReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")

	if err := s.store.DeleteReport(r.Context(), reportID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "report not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to delete report", http.StatusInternalServerError)
		return
	}

	slog.Info("report deleted", "id", reportID)
	w.WriteHeader(http.StatusNoContent)
}

// GetSummary handles GET /api/v1/reports/{reportID}/summary
// Returns per-year short and long term totals.
func (s *Service) GetSummary(w http.ResponseWriter, r *http.Request) {
	report, ok := s.loadReport(w, r)
	if !ok {
		return
	}
	rows, err := report.Rows()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(form8949.Summarize(rows))
}

// ExportCSV handles GET /api/v1/reports/{reportID}/form8949.csv
func (s *Service) ExportCSV(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, "csv", "text/csv", form8949.WriteCSV)
}

// ExportXLSX handles GET /api/v1/reports/{reportID}/form8949.xlsx
func (s *Service) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, "xlsx", xlsxContentType, form8949.WriteXLSX)
}

// export renders into a buffer first so a failure can still become a 500.
func (s *Service) export(w http.ResponseWriter, r *http.Request, ext, contentType string,
	write func(io.Writer, []form8949.Row) error) {
	report, ok := s.loadReport(w, r)
	if !ok {
		return
	}
	rows, err := report.Rows()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := write(&buf, rows); err != nil {
		slog.Error("export report", "id", report.ID, "format", ext, "err", err)
		writeError(w, "failed to export report", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="form8949-%s.%s"`, report.ID, ext))
	w.Write(buf.Bytes())
}

// --- Helpers ---

func (s *Service) loadReport(w http.ResponseWriter, r *http.Request) (*model.Report, bool) {
	reportID := chi.URLParam(r, "reportID")

	report, err := s.store.GetReport(r.Context(), reportID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "report not found", http.StatusNotFound)
		} else {
			slog.Error("load report", "id", reportID, "err", err)
			writeError(w, "failed to load report", http.StatusInternalServerError)
		}
		return nil, false
	}
	return report, true
}

func (s *Service) resolveAsset(a *subunit.Asset) (subunit.Asset, error) {
	if a == nil {
		return s.asset, nil
	}
	if err := a.Validate(); err != nil {
		return subunit.Asset{}, err
	}
	return *a, nil
}

// resolveSchedule overlays the requested methods on the service defaults.
func (s *Service) resolveSchedule(requested map[int]policy.Method) (schedule.Schedule, error) {
	out := make(schedule.Schedule, len(s.defaults)+len(requested))
	for y, m := range s.defaults {
		out[y] = m
	}
	for y, m := range requested {
		parsed, err := policy.ParseMethod(string(m))
		if err != nil {
			return nil, fmt.Errorf("year %d: %w", y, err)
		}
		out[y] = parsed
	}
	return out, nil
}

func toTransactions(reqs []TransactionRequest) ([]exchange.Transaction, error) {
	txs := make([]exchange.Transaction, 0, len(reqs))
	for i, req := range reqs {
		if req.Time.IsZero() {
			return nil, fmt.Errorf("transactions[%d]: time is required", i)
		}
		t := req.Time.UTC()
		switch req.Type {
		case TypeAcquire:
			a, err := exchange.NewAcquire(t, req.AmountSubunits, req.UnitPrice)
			if err != nil {
				return nil, fmt.Errorf("transactions[%d]: %w", i, err)
			}
			txs = append(txs, a)
		case TypeDispose:
			d, err := exchange.NewDispose(t, req.AmountSubunits, req.UnitPrice)
			if err != nil {
				return nil, fmt.Errorf("transactions[%d]: %w", i, err)
			}
			txs = append(txs, d)
		default:
			return nil, fmt.Errorf("transactions[%d]: type must be %q or %q", i, TypeAcquire, TypeDispose)
		}
	}
	return txs, nil
}

func newReportResponse(report *model.Report) (ReportResponse, error) {
	rows, err := report.Rows()
	if err != nil {
		return ReportResponse{}, err
	}
	return ReportResponse{Report: report, Summary: form8949.Summarize(rows)}, nil
}

func recordRun(stats processor.Stats, realized []lot.RealizedLot) {
	metrics.ProcessingLatency.Observe(stats.Duration.Seconds())
	metrics.DisposalsProcessed.Add(float64(stats.Disposals))
	metrics.LotSplits.Add(float64(stats.Splits))
	for _, l := range realized {
		term := metrics.TermShort
		if l.IsLongTerm() {
			term = metrics.TermLong
		}
		metrics.RealizedLots.WithLabelValues(term).Inc()
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
