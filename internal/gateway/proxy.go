package gateway

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/nulzo/ollama-relay/internal/httpclient"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// maxErrorBody caps how much of a failed backend response is buffered.
const maxErrorBody = 1 << 20

// Proxy forwards resolved requests to their backend and streams the answer
// back unmodified.
type Proxy struct {
	client httpclient.HTTPClient
	log    *zap.Logger
}

func NewProxy(client httpclient.HTTPClient, log *zap.Logger) *Proxy {
	return &Proxy{client: client, log: log}
}

// Forward POSTs target.Payload to target.URL and relays the response to w.
//
// Before anything is written to w, failures are returned as typed errors
// carrying their HTTP status and the caller is expected to render them. Once
// a success status has been sent, a broken stream is reported as
// *StreamInterruptedError and the caller must abort the connection instead of
// completing the response.
func (p *Proxy) Forward(ctx context.Context, target Target, inbound http.Header, w http.ResponseWriter) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(target.Payload))
	if err != nil {
		return &RequestBuildError{Err: err}
	}
	outboundHeaders(req.Header, inbound)

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &UpstreamUnavailableError{
			Service: target.Service,
			URL:     target.URL,
			Timeout: httpclient.IsTimeout(err),
			Err:     err,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return p.statusError(target, resp)
	}

	header := resp.Header.Clone()
	removeHopHeaders(header)
	copyHeaders(w.Header(), header)
	w.WriteHeader(resp.StatusCode)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	result := relay(w, resp.Body)
	p.log.Debug("Relayed backend response",
		zap.String("service", target.Service),
		zap.Int("status", resp.StatusCode),
		zap.Stringer("outcome", result.Outcome),
		zap.Int64("bytes", result.Written),
	)

	if result.Outcome == RelayCompleted {
		return nil
	}
	return &StreamInterruptedError{
		Service:    target.Service,
		Written:    result.Written,
		CallerGone: result.CallerGone,
		Err:        result.Err,
	}
}

func (p *Proxy) statusError(target Target, resp *http.Response) error {
	body, err := httpclient.ReadLimited(resp.Body, maxErrorBody)
	if err != nil {
		p.log.Debug("Could not read backend error body",
			zap.String("service", target.Service),
			zap.Error(err),
		)
	}

	statusErr := &UpstreamStatusError{Service: target.Service, Status: resp.StatusCode}
	if err == nil && gjson.ValidBytes(body) && gjson.ParseBytes(body).IsObject() {
		statusErr.Body = body
	}
	return statusErr
}

// outboundHeaders copies the caller's end-to-end headers onto the backend
// request. Length and encoding are left to the transport since the body was
// rewritten.
func outboundHeaders(dst, inbound http.Header) {
	h := inbound.Clone()
	removeHopHeaders(h)
	h.Del("Host")
	h.Del("Content-Length")
	h.Del("Accept-Encoding")
	copyHeaders(dst, h)

	if dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", "application/json")
	}
}
