// Package handlers provides HTTP request handlers for the analysis API and
// the web UI.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nixintel/urldater/internal/assets"
	"github.com/nixintel/urldater/internal/config"
	"github.com/nixintel/urldater/internal/export"
	"github.com/nixintel/urldater/internal/metrics"
	"github.com/nixintel/urldater/internal/report"
	"github.com/nixintel/urldater/internal/security"
	"github.com/nixintel/urldater/pkg/version"
)

// Analyzer runs the signal lookups for one URL.
type Analyzer interface {
	Analyze(ctx context.Context, rawURL string, signal report.Signal) (*report.Report, error)
}

// Exporter renders a report as a downloadable file.
type Exporter interface {
	CSV(rep *report.Report, signal report.Signal) (string, []byte, error)
	ZIP(rep *report.Report) (string, []byte, error)
	XLSX(rep *report.Report) (string, []byte, error)
}

// Pool exposes the browser pool gauges for the health endpoint.
type Pool interface {
	Size() int
	Live() int
	Idle() int
}

// Handler handles all API and page requests.
type Handler struct {
	cfg       *config.Config
	analyzer  Analyzer
	exporter  Exporter
	pool      Pool
	startedAt time.Time

	// Static pages are rendered once and cached; their content is embedded
	// and never changes at runtime.
	pageOnce  sync.Once
	indexHTML string
	aboutHTML string
	faqHTML   string
	pageErr   error
}

// New creates a new Handler.
func New(cfg *config.Config, analyzer Analyzer, exporter Exporter, pool Pool) *Handler {
	return &Handler{
		cfg:       cfg,
		analyzer:  analyzer,
		exporter:  exporter,
		pool:      pool,
		startedAt: time.Now(),
	}
}

// analyzeRequest is the body of POST /analyze.
type analyzeRequest struct {
	URL        string `json:"url"`
	SearchType string `json:"searchType"`
}

// exportRequest is the body of POST /export/{format}: a previously returned
// report, plus an optional signal selector for single-table CSV export.
type exportRequest struct {
	report.Report
	Signal string `json:"signal,omitempty"`
}

// HandleAnalyze runs the requested lookups and returns the report as JSON.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req analyzeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if req.URL == "" {
		h.writeError(w, http.StatusBadRequest, "No URL provided")
		return
	}

	signal, err := report.ParseSignal(req.SearchType)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid search type")
		return
	}

	normalized, err := security.NormalizeURL(req.URL)
	if err != nil {
		log.Warn().Err(err).Str("url", req.URL).Msg("URL validation failed")
		h.writeError(w, http.StatusBadRequest, "Invalid URL: "+err.Error())
		return
	}

	log.Info().
		Str("signal", string(signal)).
		Str("url", normalized).
		Msg("Analysis requested")

	rep, err := h.analyzer.Analyze(r.Context(), normalized, signal)
	if err != nil {
		metrics.RecordRequest(string(signal), "error", time.Since(start))
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics.RecordRequest(string(signal), "ok", time.Since(start))
	h.writeJSON(w, http.StatusOK, rep)
}

// HandleExport renders a posted report as csv, zip or xlsx.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	format := r.PathValue("format")

	var req exportRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	var (
		filename string
		data     []byte
		mime     string
		err      error
	)
	switch format {
	case "csv":
		signal, sigErr := h.csvSignal(&req)
		if sigErr != nil {
			h.writeError(w, http.StatusBadRequest, sigErr.Error())
			return
		}
		filename, data, err = h.exporter.CSV(&req.Report, signal)
		mime = "text/csv"
	case "zip":
		filename, data, err = h.exporter.ZIP(&req.Report)
		mime = "application/zip"
	case "xlsx":
		filename, data, err = h.exporter.XLSX(&req.Report)
		mime = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		h.writeError(w, http.StatusNotFound, "Unknown export format: "+format)
		return
	}

	if err != nil {
		if errors.Is(err, export.ErrNoData) {
			h.writeError(w, http.StatusBadRequest, "No data to export")
			return
		}
		log.Error().Err(err).Str("format", format).Msg("Export failed")
		h.writeError(w, http.StatusInternalServerError, "Export failed")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(data)
}

// csvSignal picks the table a CSV export should contain. An explicit signal
// in the request wins; otherwise the report must hold exactly one table.
func (h *Handler) csvSignal(req *exportRequest) (report.Signal, error) {
	if req.Signal != "" {
		signal, err := report.ParseSignal(req.Signal)
		if err != nil || signal == report.SignalAll {
			return "", errors.New("Invalid export signal: " + req.Signal)
		}
		return signal, nil
	}

	var candidates []report.Signal
	if len(req.RDAP) > 0 {
		candidates = append(candidates, report.SignalRDAP)
	}
	if len(req.Headers) > 0 {
		candidates = append(candidates, report.SignalHeaders)
	}
	if len(req.Certs) > 0 {
		candidates = append(candidates, report.SignalCerts)
	}
	switch len(candidates) {
	case 0:
		return "", errors.New("No data to export")
	case 1:
		return candidates[0], nil
	}
	return "", errors.New("Report holds multiple tables; pass a signal or use the zip export")
}

// HandleHealth returns service health information.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": version.Full(),
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
		"pool": map[string]int{
			"capacity": h.pool.Size(),
			"live":     h.pool.Live(),
			"idle":     h.pool.Idle(),
		},
	}
	metrics.UpdatePoolMetrics(h.pool.Size(), h.pool.Live(), h.pool.Idle())
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleIndex serves the analysis form page.
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, func() string { return h.indexHTML })
}

// HandleAbout serves the about page.
func (h *Handler) HandleAbout(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, func() string { return h.aboutHTML })
}

// HandleFAQ serves the FAQ page.
func (h *Handler) HandleFAQ(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, func() string { return h.faqHTML })
}

// HandleNotFound handles requests to unknown paths.
func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, "Not found")
}

func (h *Handler) servePage(w http.ResponseWriter, page func() string) {
	h.pageOnce.Do(h.renderPages)
	if h.pageErr != nil {
		log.Error().Err(h.pageErr).Msg("Page rendering failed")
		h.writeError(w, http.StatusInternalServerError, "Page rendering failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, page())
}

func (h *Handler) renderPages() {
	v := version.Full()
	if h.indexHTML, h.pageErr = assets.RenderIndex(v); h.pageErr != nil {
		return
	}
	if h.aboutHTML, h.pageErr = assets.RenderMarkdownPage("about", "About", v); h.pageErr != nil {
		return
	}
	h.faqHTML, h.pageErr = assets.RenderMarkdownPage("faq", "FAQ", v)
}

// decodeJSON reads and parses a JSON request body into dst. On failure it
// writes the error response and returns false.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	const maxBodySize = 1 << 20 // 1MB
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	buf := getBuffer()
	defer putBuffer(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		log.Warn().Err(err).Msg("Failed to read request body")
		h.writeError(w, http.StatusBadRequest, "Failed to read request")
		return false
	}

	if err := json.Unmarshal(buf.Bytes(), dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request")
		h.writeError(w, http.StatusBadRequest, "Invalid JSON request")
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeJSON buffers the encoded response before writing so encoding errors
// are caught before headers are sent.
func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, resp interface{}) {
	buf := getResponseBuffer()
	defer putResponseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	_, _ = w.Write(buf.Bytes())
}
