// Package handlers implements the HTTP handlers for the relay daemon.
// Every handler delegates to the core service and translates its
// structured errors to status codes.
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/relaymesh/relay/internal/artifact"
	"github.com/relaymesh/relay/internal/capability"
	"github.com/relaymesh/relay/internal/core"
	"github.com/relaymesh/relay/internal/relayerr"
	"github.com/relaymesh/relay/internal/state"
)

// Handlers holds the handler dependencies.
type Handlers struct {
	Service *core.Service
}

func New(svc *core.Service) *Handlers {
	return &Handlers{Service: svc}
}

// ── Threads ─────────────────────────────────────────────────

func (h *Handlers) CreateThread(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, relayerr.Validation("invalid request body: %v", err))
			return
		}
	}
	info, err := h.Service.CreateThread(req.Name)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, info)
}

func (h *Handlers) ListThreads(w http.ResponseWriter, r *http.Request) {
	infos, err := h.Service.ListThreads()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, infos)
}

func (h *Handlers) GetThread(w http.ResponseWriter, r *http.Request) {
	info, err := h.Service.GetThread(chi.URLParam(r, "threadID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// ── State ───────────────────────────────────────────────────

func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Service.GetState(chi.URLParam(r, "threadID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (h *Handlers) GetHeader(w http.ResponseWriter, r *http.Request) {
	header, err := h.Service.GetHeader(chi.URLParam(r, "threadID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, header)
}

func (h *Handlers) PatchState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ops             []state.Op `json:"ops"`
		ExpectedVersion *int       `json:"expected_version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, relayerr.Validation("invalid request body: %v", err))
		return
	}
	expected := -1
	if req.ExpectedVersion != nil {
		expected = *req.ExpectedVersion
	}
	res, err := h.Service.PatchState(chi.URLParam(r, "threadID"), req.Ops, expected)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) CompactState(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.CompactState(chi.URLParam(r, "threadID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ── Artifacts ───────────────────────────────────────────────

func (h *Handlers) PutArtifact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string `json:"name"`
		Type          string `json:"type"`
		Mime          string `json:"mime"`
		Content       string `json:"content"`
		ContentBase64 string `json:"content_base64"`
		CreatedBy     string `json:"created_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, relayerr.Validation("invalid request body: %v", err))
		return
	}
	content := []byte(req.Content)
	if req.ContentBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ContentBase64)
		if err != nil {
			respondError(w, relayerr.Validation("invalid content_base64: %v", err))
			return
		}
		content = decoded
	}
	if req.CreatedBy == "" {
		req.CreatedBy = "api"
	}
	meta, err := h.Service.PutArtifact(chi.URLParam(r, "threadID"), req.Name, artifact.Type(req.Type), req.Mime, content, req.CreatedBy)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, meta)
}

func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	arts, err := h.Service.ListArtifacts(chi.URLParam(r, "threadID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, arts)
}

func (h *Handlers) GetArtifact(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	ref := chi.URLParam(r, "ref")

	if r.URL.Query().Get("raw") == "1" {
		meta, err := h.Service.GetArtifact(threadID, ref)
		if err != nil {
			respondError(w, err)
			return
		}
		content, err := h.Service.ArtifactContent(threadID, ref)
		if err != nil {
			respondError(w, err)
			return
		}
		w.Header().Set("Content-Type", meta.Mime)
		w.WriteHeader(http.StatusOK)
		w.Write(content)
		return
	}

	meta, err := h.Service.GetArtifact(threadID, ref)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, meta)
}

// ── Events ──────────────────────────────────────────────────

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, relayerr.Validation("invalid after cursor: %v", err))
			return
		}
		after = parsed
	}
	evs, err := h.Service.Events(chi.URLParam(r, "threadID"), after)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, evs)
}

// ── Capabilities ────────────────────────────────────────────

func (h *Handlers) InvokeCapability(w http.ResponseWriter, r *http.Request) {
	var req capability.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, relayerr.Validation("invalid request body: %v", err))
		return
	}
	if req.ThreadID == "" {
		respondError(w, relayerr.Validation("thread_id is required"))
		return
	}
	if req.Capability == "" {
		respondError(w, relayerr.Validation("capability is required"))
		return
	}
	res, err := h.Service.Invoke(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) ListCapabilities(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Service.Capabilities())
}

// ── Reports ─────────────────────────────────────────────────

func (h *Handlers) GenerateReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Format string `json:"format"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, relayerr.Validation("invalid request body: %v", err))
			return
		}
	}
	rep, err := h.Service.Report(chi.URLParam(r, "threadID"), req.Format)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// ── Response helpers ────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError maps structured error kinds to HTTP status codes and
// writes the {"error": {...}} body.
func respondError(w http.ResponseWriter, err error) {
	re, ok := relayerr.AsError(err)
	if !ok {
		re = relayerr.Validation("%v", err)
	}
	status := http.StatusInternalServerError
	switch re.Kind {
	case relayerr.KindNotFound:
		status = http.StatusNotFound
	case relayerr.KindConflict:
		status = http.StatusConflict
	case relayerr.KindValidation:
		status = http.StatusBadRequest
	case relayerr.KindCapability:
		status = http.StatusBadGateway
	case relayerr.KindTimeout:
		status = http.StatusGatewayTimeout
	case relayerr.KindLimit:
		status = http.StatusTooManyRequests
	}
	body := *re
	if re.Cause != nil {
		body.Detail = re.Detail + ": " + re.Cause.Error()
	}
	respondJSON(w, status, map[string]any{"error": &body})
}
