// Package api exposes the tab store over HTTP so a sidebar panel can render
// the lists and send the user's actions.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/roamiiing/vibetabber/internal/applog"
	"github.com/roamiiing/vibetabber/internal/types"
)

const requestTimeout = 15 * time.Second

// Store is the part of tabstore.Store the API drives.
type Store interface {
	Restored() bool
	Pinned() []types.Tab
	Unpinned() []types.Tab
	Tab(id string) (types.Tab, bool)
	ActiveTabID() string

	CreateNewTab(ctx context.Context) error
	ActivateTab(ctx context.Context, id string) error
	RemoveTab(ctx context.Context, id string) error
	ChangePinState(id string)
	RenameTab(id, title string)
	MoveTab(id string, index int)
}

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TabsView is the body of GET /tabs.
type TabsView struct {
	Pinned      []types.Tab `json:"pinned"`
	Unpinned    []types.Tab `json:"unpinned"`
	ActiveTabID string      `json:"activeTabId,omitempty"`
}

// PatchTab is the body of PATCH /tabs/{id}. Absent fields are left alone.
type PatchTab struct {
	Title *string `json:"title,omitempty"`
	Index *int    `json:"index,omitempty"`
}

type handler struct {
	current func() Store
}

type storeKey struct{}

// Fixed serves a single store for the lifetime of the router.
func Fixed(s Store) func() Store {
	return func() Store { return s }
}

// DefaultOrigins lets browser extensions, and nothing else, call the API
// from a page.
var DefaultOrigins = []string{"chrome-extension://*", "moz-extension://*"}

// Router returns the API routes over the store current returns at the time
// of each request. A nil store means no browser session is running. Only
// /health answers then. allowedOrigins lists the origins permitted to call
// the API from a browser; empty means DefaultOrigins.
func Router(current func() Store, allowedOrigins []string) http.Handler {
	h := &handler{current: current}

	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultOrigins
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Route("/tabs", func(r chi.Router) {
		r.Use(h.requireSession)
		r.Get("/", h.listTabs)
		r.Group(func(r chi.Router) {
			r.Use(h.requireRestored)
			r.Post("/", h.createTab)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.requireTab)
				r.Post("/activate", h.activateTab)
				r.Post("/pin", h.togglePin)
				r.Patch("/", h.patchTab)
				r.Delete("/", h.removeTab)
			})
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		applog.Error("api.encode", err)
	}
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Error: msg})
}

// requireSession pins the request to the store of the running session.
func (h *handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store := h.current()
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "browser not connected")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), storeKey{}, store)))
	})
}

func storeFrom(r *http.Request) Store {
	return r.Context().Value(storeKey{}).(Store)
}

// requireRestored rejects changes until the store has reconciled with the
// browser, since the lists may still be about to be replaced.
func (h *handler) requireRestored(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !storeFrom(r).Restored() {
			writeError(w, http.StatusServiceUnavailable, "tabs are still loading")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) requireTab(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := storeFrom(r).Tab(chi.URLParam(r, "id")); !ok {
			writeError(w, http.StatusNotFound, "no such tab")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	store := h.current()
	writeOK(w, map[string]bool{
		"connected": store != nil,
		"restored":  store != nil && store.Restored(),
	})
}

func (h *handler) listTabs(w http.ResponseWriter, r *http.Request) {
	store := storeFrom(r)
	writeOK(w, TabsView{
		Pinned:      store.Pinned(),
		Unpinned:    store.Unpinned(),
		ActiveTabID: store.ActiveTabID(),
	})
}

func (h *handler) createTab(w http.ResponseWriter, r *http.Request) {
	if err := storeFrom(r).CreateNewTab(r.Context()); err != nil {
		applog.Error("api.create", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	// The tab is added when the browser reports it.
	writeJSON(w, http.StatusAccepted, Response{Success: true})
}

func (h *handler) activateTab(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := storeFrom(r).ActivateTab(r.Context(), id); err != nil {
		applog.Error("api.activate", err, "id", id)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeTab(w, r, id)
}

func (h *handler) togglePin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	storeFrom(r).ChangePinState(id)
	writeTab(w, r, id)
}

func (h *handler) patchTab(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body PatchTab
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	store := storeFrom(r)
	if body.Title != nil {
		store.RenameTab(id, *body.Title)
	}
	if body.Index != nil {
		store.MoveTab(id, *body.Index)
	}
	writeTab(w, r, id)
}

func (h *handler) removeTab(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := storeFrom(r).RemoveTab(r.Context(), id); err != nil {
		applog.Error("api.remove", err, "id", id)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true})
}

// writeTab answers with the tab's current state. It may have vanished in the
// meantime if the browser closed it.
func writeTab(w http.ResponseWriter, r *http.Request, id string) {
	tab, ok := storeFrom(r).Tab(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no such tab")
		return
	}
	writeOK(w, tab)
}
