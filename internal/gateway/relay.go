package gateway

import (
	"errors"
	"io"
	"net/http"
	"net/textproto"
	"strings"
)

const relayBufferSize = 32 * 1024

// RelayOutcome tells whether a relayed body reached its end.
type RelayOutcome int

const (
	RelayCompleted RelayOutcome = iota
	RelayInterrupted
)

func (o RelayOutcome) String() string {
	if o == RelayCompleted {
		return "completed"
	}
	return "interrupted"
}

// RelayResult describes how a streamed body transfer ended.
type RelayResult struct {
	Outcome RelayOutcome
	Written int64
	// Err is set when Outcome is RelayInterrupted.
	Err error
	// CallerGone is true when the write side broke rather than the backend.
	CallerGone bool
}

// relay copies src to dst chunk by chunk, flushing after every write so each
// NDJSON line reaches the caller as soon as the backend produces it.
func relay(dst http.ResponseWriter, src io.Reader) RelayResult {
	flusher, _ := dst.(http.Flusher)
	buf := make([]byte, relayBufferSize)

	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			m, writeErr := dst.Write(buf[:n])
			written += int64(m)
			if writeErr == nil && m < n {
				writeErr = io.ErrShortWrite
			}
			if writeErr != nil {
				return RelayResult{Outcome: RelayInterrupted, Written: written, Err: writeErr, CallerGone: true}
			}
			if flusher != nil {
				flusher.Flush()
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return RelayResult{Outcome: RelayCompleted, Written: written}
			}
			return RelayResult{Outcome: RelayInterrupted, Written: written, Err: readErr}
		}
	}
}

// hopHeaders apply to a single connection and are never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopHeaders strips hop-by-hop headers, including any listed in
// Connection.
func removeHopHeaders(h http.Header) {
	for _, value := range h.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = textproto.TrimString(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// copyHeaders replaces every key of src in dst, leaving other dst keys alone.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst.Del(k)
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
