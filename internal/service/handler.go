// Package service serves the Foo collection over HTTP from a store.Service.
// It backs the contract suite when no live server is configured.
package service

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/l0p7/foorest/internal/foo"
	"github.com/l0p7/foorest/internal/metrics"
	"github.com/l0p7/foorest/internal/store"
)

const (
	realm          = "foorest"
	maxBodyBytes   = 1 << 20
	unmatchedRoute = "unmatched"
)

// allowedMethods is advertised on OPTIONS.
var allowedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodHead,
	http.MethodOptions,
}

// Options configure a Handler.
type Options struct {
	// BasePath is where the collection is mounted, for example "/foos".
	BasePath string
	// Users maps usernames to passwords accepted on mutating requests.
	Users   map[string]string
	Metrics *metrics.Recorder
}

// Handler is the Foo collection endpoint.
type Handler struct {
	store    store.Service
	logger   *slog.Logger
	metrics  *metrics.Recorder
	basePath string
	router   *mux.Router

	mu    sync.RWMutex
	users map[string]string
}

// NewHandler builds the router for opts.BasePath.
func NewHandler(svc store.Service, logger *slog.Logger, opts Options) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("service: store required")
	}
	basePath := "/" + strings.Trim(opts.BasePath, "/")
	if basePath == "/" {
		return nil, fmt.Errorf("service: base path invalid: %q", opts.BasePath)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	h := &Handler{
		store:    svc,
		logger:   logger.With(slog.String("agent", "service")),
		metrics:  opts.Metrics,
		basePath: basePath,
	}
	h.SetUsers(opts.Users)

	collection := basePath
	entity := basePath + "/{id}"

	router := mux.NewRouter()
	router.StrictSlash(false)
	router.HandleFunc(collection, h.list).Methods(http.MethodGet)
	router.HandleFunc(collection, h.head).Methods(http.MethodHead)
	router.HandleFunc(collection, h.requireAuth(h.create)).Methods(http.MethodPost)
	router.HandleFunc(collection, h.options).Methods(http.MethodOptions)
	router.HandleFunc(collection+"/", h.list).Methods(http.MethodGet)
	router.HandleFunc(collection+"/", h.requireAuth(h.create)).Methods(http.MethodPost)
	router.HandleFunc(entity, h.get).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc(entity, h.requireAuth(h.update)).Methods(http.MethodPut)
	router.HandleFunc(entity, h.requireAuth(h.remove)).Methods(http.MethodDelete)
	router.HandleFunc(entity, h.options).Methods(http.MethodOptions)
	// mux skips Use middleware for these two, so they are wrapped directly.
	router.MethodNotAllowedHandler = h.instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", strings.Join(allowedMethods, ", "))
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}))
	router.NotFoundHandler = h.instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	}))
	router.Use(h.instrument)
	h.router = router
	return h, nil
}

// SetUsers swaps the accepted credentials; safe to call while serving.
func (h *Handler) SetUsers(users map[string]string) {
	cloned := make(map[string]string, len(users))
	for name, password := range users {
		cloned[name] = password
	}
	h.mu.Lock()
	h.users = cloned
	h.mu.Unlock()
}

// BasePath returns the mount point of the collection.
func (h *Handler) BasePath() string {
	return h.basePath
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	entities, err := h.store.List(r.Context())
	if err != nil {
		h.storeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entities)
}

func (h *Handler) head(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("foo", "bar")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) options(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", strings.Join(allowedMethods, ", "))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	entity, found, err := h.store.FindOne(r.Context(), id)
	if err != nil {
		h.storeFailure(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("foo %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload foo.Foo
	if !decodeBody(w, r, &payload) {
		return
	}
	// The id is always server-assigned.
	created, err := h.store.Create(r.Context(), foo.New(payload.Name))
	if err != nil {
		if errors.Is(err, foo.ErrNameRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.storeFailure(w, r, err)
		return
	}
	w.Header().Set("Location", h.basePath+"/"+strconv.FormatInt(created.ID, 10))
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var payload foo.Foo
	if !decodeBody(w, r, &payload) {
		return
	}
	if payload.ID != 0 && payload.ID != id {
		writeError(w, http.StatusBadRequest, "body id does not match path id")
		return
	}
	updated, err := h.store.Update(r.Context(), foo.Foo{ID: id, Name: payload.Name})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, updated)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("foo %d not found", id))
	case errors.Is(err, foo.ErrNameRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.storeFailure(w, r, err)
	}
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	err := h.store.Delete(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("foo %d not found", id))
	default:
		h.storeFailure(w, r, err)
	}
}

func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		if !ok || !h.authenticate(user, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}

func (h *Handler) authenticate(user, password string) bool {
	h.mu.RLock()
	expected, known := h.users[user]
	h.mu.RUnlock()
	if !known {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(expected)) == 1
}

func (h *Handler) storeFailure(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("store failure", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		// Raw paths would make the route label unbounded.
		route := unmatchedRoute
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, rec.status, duration)
		h.logger.LogAttrs(r.Context(), slog.LevelDebug, "request served",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rec.status),
			slog.Duration("duration", duration),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	mediaType := r.Header.Get("Content-Type")
	if mediaType != "" && !strings.HasPrefix(strings.ToLower(mediaType), "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return false
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
