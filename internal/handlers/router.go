package handlers

import "net/http"

// NewRouter wires the handler's routes into a ServeMux.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.HandleIndex)
	mux.HandleFunc("GET /about", h.HandleAbout)
	mux.HandleFunc("GET /faq", h.HandleFAQ)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("POST /analyze", h.HandleAnalyze)
	mux.HandleFunc("POST /export/{format}", h.HandleExport)
	mux.HandleFunc("/", h.HandleNotFound)

	return mux
}
