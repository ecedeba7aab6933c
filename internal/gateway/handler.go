package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"stream-gateway/internal/platform/logger"
	"stream-gateway/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/MP2T"
)

// Handler exposes the gateway HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes mounts /token, /playlist and /segment on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/token", h.IssueToken)
	r.Get("/playlist", h.GetPlaylist)
	r.Get("/segment", h.GetSegment)
}

type errorBody struct {
	Error string `json:"error"`
}

// IssueToken handles GET /token?match_id=...
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	matchID := MatchID(r.URL.Query().Get("match_id"))

	tok, err := h.svc.IssueToken(matchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.log.Debug("token issued",
		slog.String("match_id", string(matchID)),
		slog.Int64("expiry", tok.Expiry))
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tok)
	if h.metrics != nil {
		h.metrics.IncTokensIssued()
	}
}

// GetPlaylist handles GET /playlist?match_id=...&token=...&expiry=...
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	matchID := MatchID(q.Get("match_id"))

	m3u8, err := h.svc.GetPlaylist(r.Context(), matchID, q.Get("token"), q.Get("expiry"))
	if err != nil {
		if h.metrics != nil && (errors.Is(err, ErrExpired) || errors.Is(err, ErrInvalidToken)) {
			h.metrics.IncVerifyFailure(ReasonFor(err))
		}
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(m3u8))
	if h.metrics != nil {
		h.metrics.IncPlaylistsServed()
	}
}

// GetSegment handles GET /segment?url=... The body is streamed as it arrives
// and always labelled video/MP2T, whatever the origin reported.
func (h *Handler) GetSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := h.svc.FetchSegment(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer seg.Body.Close()

	w.Header().Set("Content-Type", segmentContentType)
	w.Header().Set("Cache-Control", "no-store")
	if seg.Length >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(seg.Length, 10))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, seg.Body)
	if err != nil {
		// Headers are gone; all we can do is cut the response short.
		h.log.Warn("segment stream interrupted",
			slog.Int64("bytes", n),
			slog.String("request_id", logger.RequestID(r.Context())),
			slog.String("error", err.Error()))
	}
	if h.metrics != nil {
		h.metrics.AddSegment(n)
	}
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	attrs := []any{
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("request_id", logger.RequestID(r.Context())),
		slog.String("error", err.Error()),
	}
	if status >= http.StatusInternalServerError {
		h.log.Warn("request failed", attrs...)
	} else {
		h.log.Info("request rejected", attrs...)
	}
	writeJSON(w, status, errorBody{Error: ReasonFor(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
