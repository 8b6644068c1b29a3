package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leased/internal/ledger"
	"leased/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Acquire(ctx context.Context, req types.AcquireRequest) (types.AcquireReply, error)
	Release(ctx context.Context, req types.ReleaseRequest) (types.ReleaseReply, error)
	Leases() []types.LeaseStatus
	Status() types.StatusResponse
	Ready() bool
}

// Subscriber streams preemption notices for one client.
type Subscriber interface {
	Subscribe(client string) (<-chan types.PreemptionNotice, func())
}

func NewMux(svc Service, opts Options) http.Handler {
	opts = opts.withDefaults()
	log := *opts.Logger

	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(abortOnInvariant(opts.OnInvariant))
	r.Use(MetricsMiddleware)
	if opts.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORS.AllowedOrigins,
			AllowedMethods: opts.CORS.AllowedMethods,
			AllowedHeaders: opts.CORS.AllowedHeaders,
		}))
	}
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/v1/leases/acquire", func(w http.ResponseWriter, r *http.Request) {
		rl := newRequestLogger(log, r)
		var req types.AcquireRequest
		if status, msg := decodeJSONBody(w, r, opts.MaxBodyBytes, &req); status != 0 {
			writeJSONError(w, status, msg)
			rl.end(status, nil, map[string]any{"reason": msg})
			return
		}
		reply, err := svc.Acquire(r.Context(), req)
		if err != nil {
			status := statusFor(err)
			writeJSONError(w, status, err.Error())
			rl.end(status, err, nil)
			return
		}
		if !reply.Granted {
			countCapacityDenial()
			w.Header().Set("Retry-After", retryAfterSeconds(reply.RetryAfterMS))
		}
		writeJSON(w, reply)
		rl.end(http.StatusOK, nil, map[string]any{"client": req.Client, "granted": reply.Granted, "lease_id": reply.LeaseID})
	})

	r.Post("/v1/leases/release", func(w http.ResponseWriter, r *http.Request) {
		rl := newRequestLogger(log, r)
		var req types.ReleaseRequest
		if status, msg := decodeJSONBody(w, r, opts.MaxBodyBytes, &req); status != 0 {
			writeJSONError(w, status, msg)
			rl.end(status, nil, map[string]any{"reason": msg})
			return
		}
		reply, err := svc.Release(r.Context(), req)
		if err != nil {
			status := statusFor(err)
			writeJSONError(w, status, err.Error())
			rl.end(status, err, nil)
			return
		}
		writeJSON(w, reply)
		rl.end(http.StatusOK, nil, map[string]any{"lease_id": req.LeaseID})
	})

	r.Get("/v1/leases", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.LeasesResponse{Leases: svc.Leases()})
	})

	r.Get("/v1/preemptions", func(w http.ResponseWriter, r *http.Request) {
		if opts.Notices == nil {
			writeJSONError(w, http.StatusNotFound, "preemption is disabled")
			return
		}
		client := strings.TrimSpace(r.URL.Query().Get("client"))
		if client == "" {
			writeJSONError(w, http.StatusBadRequest, "client is required")
			return
		}
		streamNotices(w, r, opts, client)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// abortOnInvariant keeps Recoverer from answering 500 for a broken ledger:
// the panic goes to onInvariant and the connection is aborted. Other panics
// pass through to Recoverer.
func abortOnInvariant(onInvariant func(any)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if ledger.IsInvariant(v) {
					onInvariant(v)
					panic(http.ErrAbortHandler)
				}
				panic(v)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// decodeJSONBody checks the content type, limits the body size and decodes
// into v. A non-zero status means the request was rejected.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, v any) (int, string) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return http.StatusUnsupportedMediaType, "Content-Type must be application/json"
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// If exceeded size, MaxBytesReader may cause an error; still return 400 to avoid size leak details
		return http.StatusBadRequest, "invalid JSON body"
	}
	return 0, ""
}

// streamNotices writes preemption notices for client as NDJSON until the
// client disconnects or the server shuts down.
func streamNotices(w http.ResponseWriter, r *http.Request, opts Options, client string) {
	notices, cancelSub := opts.Notices.Subscribe(client)
	defer cancelSub()
	ctx, cancel := joinContexts(opts.BaseContext, r.Context())
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	flush()
	out := io.Writer(w)
	if requestLogLevel(r) >= LevelDebug {
		out = io.MultiWriter(w, &loggingLineWriter{log: *opts.Logger, prefix: "notice"})
	}
	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			if err := enc.Encode(n); err != nil {
				return
			}
			flush()
		}
	}
}

// retryAfterSeconds rounds a millisecond hint up to whole seconds for the
// Retry-After header.
func retryAfterSeconds(ms int32) string {
	s := (int64(ms) + 999) / 1000
	if s < 1 {
		s = 1
	}
	return strconv.FormatInt(s, 10)
}
