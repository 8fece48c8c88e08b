package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"vramd/internal/controller"
)

// proxyHandler validates the envelope of an OpenAI-style request, pulls
// the model id out of it, and streams the backend's reply through
// unchanged. The body bytes are forwarded exactly as received.
func proxyHandler(svc Service, capability controller.Capability, path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		var peek struct {
			Model string `json:"model"`
		}
		if err := json.Unmarshal(raw, &peek); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(peek.Model) == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required")
			return
		}

		lvl := requestLogLevel(r)
		start := time.Now()
		if lvl >= LevelInfo && zlog != nil {
			z := zlog.Info().Str("path", path).Str("model", peek.Model)
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("proxy start")
		}

		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp, err := svc.Forward(ctx, peek.Model, capability, path, bytes.NewReader(raw))
		if err != nil {
			// If context was canceled (client disconnect), just return.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := writeServiceError(w, err)
			if lvl >= LevelInfo && zlog != nil {
				z := zlog.Info().Int("status", status).Dur("dur", time.Since(start))
				if rid := middleware.GetReqID(r.Context()); rid != "" {
					z = z.Str("request_id", rid)
				}
				z.Err(err).Msg("proxy end")
			}
			return
		}
		defer resp.Body.Close()

		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		dst := io.Writer(w)
		if lvl >= LevelDebug {
			dst = io.MultiWriter(w, &loggingLineWriter{})
		}
		flushCopy(dst, w, resp.Body)

		if lvl >= LevelInfo && zlog != nil {
			z := zlog.Info().Int("status", resp.StatusCode).Dur("dur", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("proxy end")
		}
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// flushCopy copies src to dst, flushing after every chunk so streamed
// SSE/NDJSON replies reach the client token by token.
func flushCopy(dst io.Writer, w http.ResponseWriter, src io.Reader) {
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
			if flush != nil {
				flush()
			}
		}
		if err != nil {
			return
		}
	}
}
