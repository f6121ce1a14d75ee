package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
)

// Claimer is the subset of Store used by the HTTP middleware.
type Claimer interface {
	Begin(ctx context.Context, key string) (State, []byte, error)
	Complete(ctx context.Context, key string, result []byte) error
	Forget(ctx context.Context, key string) error
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Middleware makes a request carrying an Idempotency-Key run at most once per route.
// A 2xx response is stored and replayed to later requests with the same key; any
// other outcome releases the key so the client can resubmit. A request arriving
// while the first is still running gets 409. Requests without the header pass
// through, and a store outage fails open.
func Middleware(log *slog.Logger, c Claimer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			idemKey := "idem:http:" + r.URL.Path + ":" + key

			state, stored, err := c.Begin(r.Context(), idemKey)
			if err != nil {
				log.Warn("idempotency check failed", "key", key, "err", err)
				next.ServeHTTP(w, r)
				return
			}
			switch state {
			case StateDone:
				replay(w, log, key, stored)
				return
			case StatePending:
				writeJSONError(w, http.StatusConflict, "request_in_progress")
				return
			}

			rec := &recorder{ResponseWriter: w}
			ctx := context.WithoutCancel(r.Context())
			defer func() {
				if p := recover(); p != nil {
					_ = c.Forget(ctx, idemKey)
					panic(p)
				}
			}()
			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			if rec.status < 200 || rec.status > 299 {
				if err := c.Forget(ctx, idemKey); err != nil {
					log.Warn("idempotency release failed", "key", key, "err", err)
				}
				return
			}
			b, _ := json.Marshal(storedResponse{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err := c.Complete(ctx, idemKey, b); err != nil {
				log.Warn("idempotency store failed", "key", key, "err", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, log *slog.Logger, key string, stored []byte) {
	var resp storedResponse
	if err := json.Unmarshal(stored, &resp); err != nil || resp.Status == 0 {
		log.Warn("stored response unreadable", "key", key, "err", err)
		writeJSONError(w, http.StatusConflict, "duplicate_request")
		return
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
