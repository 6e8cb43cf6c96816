package httppresentation

import (
	"bytes"
	"context"
	"net/http"

	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/idempotency"
)

// withIdempotency replays the first response for a repeated Idempotency-Key within the TTL.
// Concurrent duplicates wait for the first request instead of executing again.
func (h *Handler) withIdempotency(scope string, next http.Handler) http.Handler {
	if h.deps.Idempotency == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(headerIdempotencyKey)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		resp, outcome, err := h.deps.Idempotency.Do(r.Context(), scope+":"+key, func(ctx context.Context) (idempotency.Response, error) {
			buf := newBufferedWriter()
			next.ServeHTTP(buf, r.WithContext(ctx))
			return idempotency.Response{
				StatusCode:  buf.status,
				ContentType: buf.header.Get("Content-Type"),
				Body:        buf.body.Bytes(),
			}, nil
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		if outcome == idempotency.Replayed {
			w.Header().Set(headerReplayed, "true")
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(resp.Body)
	})
}

// bufferedWriter captures a response so it can be cached before it is sent.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
	wrote  bool
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.wrote {
		return
	}
	b.status = code
	b.wrote = true
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.wrote = true
	return b.body.Write(p)
}
