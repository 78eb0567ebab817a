package httpclient

import "fmt"

const maxErrorSnippet = 200

// UpstreamError is a non-2xx answer from a backend.
type UpstreamError struct {
	StatusCode int
	Body       []byte
	URL        string
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("backend returned status %d from %s", e.StatusCode, e.URL)
	if len(e.Body) == 0 {
		return msg
	}

	snippet := e.Body
	if len(snippet) > maxErrorSnippet {
		snippet = snippet[:maxErrorSnippet]
	}
	return fmt.Sprintf("%s: %s", msg, snippet)
}
