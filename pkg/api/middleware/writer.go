package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// hijack forwards to the wrapped writer so WebSocket upgrades work behind
// the wrapping middleware.
func hijack(w http.ResponseWriter) (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T does not support hijacking", w)
	}
	return h.Hijack()
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// statusWriter records the status code a handler sent, defaulting to 200.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *statusWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusWriter) Write(b []byte) (int, error) {
	rw.written = true
	return rw.ResponseWriter.Write(b)
}

func (rw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return hijack(rw.ResponseWriter)
}

func (rw *statusWriter) Flush() { flush(rw.ResponseWriter) }

func (rw *statusWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
