package idempotency

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"lukechampine.com/blake3"

	"rwastaking/gateway/middleware"
)

// HeaderKey carries the client-chosen idempotency key.
const HeaderKey = "Idempotency-Key"

const maxKeyLength = 128

// Guard replays cached responses for repeated mutating requests.
type Guard struct {
	store    *Store
	logger   *slog.Logger
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewGuard(store *Store, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, logger: logger, inflight: make(map[string]struct{})}
}

// Middleware executes the first request for a key and replays its response for
// later requests with the same body. A different body under the same key is a
// conflict. Requests without the header pass through.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderKey))
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxKeyLength {
			middleware.WriteError(w, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key too long")
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		scope := scopedKey(r, key)
		hash := requestHash(r, body)

		rec, err := g.store.Get(scope)
		switch {
		case err == nil:
			if rec.RequestHash != hash {
				middleware.WriteError(w, http.StatusConflict, "idempotency_conflict", "idempotency key reused with a different request")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.Body)
			return
		case !errors.Is(err, ErrNotFound):
			g.logger.Error("gateway: idempotency lookup failed", "error", err)
			middleware.WriteError(w, http.StatusInternalServerError, "internal", "idempotency store unavailable")
			return
		}

		if !g.acquire(scope) {
			middleware.WriteError(w, http.StatusConflict, "idempotency_in_progress", "request with this key is in progress")
			return
		}
		defer g.release(scope)

		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		if recorder.status >= http.StatusInternalServerError {
			return
		}
		if err := g.store.Put(scope, Record{RequestHash: hash, StatusCode: recorder.status, Body: recorder.buf.Bytes()}); err != nil {
			g.logger.Error("gateway: idempotency store failed", "error", err)
		}
	})
}

func (g *Guard) acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[key]; busy {
		return false
	}
	g.inflight[key] = struct{}{}
	return true
}

func (g *Guard) release(key string) {
	g.mu.Lock()
	delete(g.inflight, key)
	g.mu.Unlock()
}

func scopedKey(r *http.Request, key string) string {
	caller := "anonymous"
	if addr, ok := middleware.CallerFromContext(r.Context()); ok {
		caller = addr.String()
	}
	return caller + "|" + key
}

func requestHash(r *http.Request, body []byte) string {
	h := blake3.New(32, nil)
	_, _ = io.WriteString(h, r.Method+" "+r.URL.Path+"\n")
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
