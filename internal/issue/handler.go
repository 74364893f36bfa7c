package issue

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/strangercall/backend/internal/auth"
)

// Handler serves the issue-board HTTP routes. Reads are public; writes
// require a verified bearer token.
type Handler struct {
	store    *Store
	verifier *auth.Verifier
}

// NewHandler creates an issue HTTP handler.
func NewHandler(store *Store, verifier *auth.Verifier) *Handler {
	return &Handler{store: store, verifier: verifier}
}

// Register attaches the issue routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/issues", h.handleList)
	mux.HandleFunc("GET /api/issues/{id}", h.handleGet)
	mux.HandleFunc("POST /api/issues", h.handleCreate)
	mux.HandleFunc("POST /api/issues/{id}/replies", h.handleReply)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	issues, err := h.store.List(r.Context(), skip, limit)
	if err != nil {
		log.Printf("issue: list failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list issues")
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid issue id")
		return
	}

	it, replies, err := h.store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		log.Printf("issue: get %d failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load issue")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issue":   it,
		"replies": replies,
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	it, err := h.store.Create(r.Context(), req.Title, req.Body, Author{
		ID:   identity.UserID,
		Name: identity.Name,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (h *Handler) handleReply(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authorize(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid issue id")
		return
	}

	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.store.AddReply(r.Context(), id, req.Body, Author{
		ID:   identity.UserID,
		Name: identity.Name,
	})
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

// authorize extracts and verifies the bearer token, writing a 401 on failure.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return auth.Identity{}, false
	}

	identity, err := h.verifier.Verify(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return auth.Identity{}, false
	}
	return identity, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
