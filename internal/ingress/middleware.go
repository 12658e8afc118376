package ingress

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// SecurityHeadersMiddleware strips version-exposing response headers,
// adapted from the teacher's internal/server.SecurityHeadersMiddleware.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapper := &headerRemovalWriter{ResponseWriter: w}
		next.ServeHTTP(wrapper, r)
		wrapper.writeSecurityHeaders()
	})
}

type headerRemovalWriter struct {
	http.ResponseWriter
	headerWritten bool
}

func (w *headerRemovalWriter) WriteHeader(statusCode int) {
	w.writeSecurityHeaders()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *headerRemovalWriter) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.writeSecurityHeaders()
	}
	return w.ResponseWriter.Write(b)
}

func (w *headerRemovalWriter) writeSecurityHeaders() {
	if w.headerWritten {
		return
	}
	w.headerWritten = true
	h := w.ResponseWriter.Header()
	h.Del("Server")
	h.Del("X-Powered-By")
	h.Set("Server", "coordroomd")
}

// Flush satisfies http.Flusher so handlers behind this middleware keep
// streaming-safe semantics.
func (w *headerRemovalWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack satisfies http.Hijacker so the WS upgrade path behind this
// middleware keeps working: gorilla/websocket hijacks the connection
// directly rather than writing through the ResponseWriter.
func (w *headerRemovalWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("ingress: underlying ResponseWriter does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
