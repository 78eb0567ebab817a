package api

import "encoding/json"

// ErrorResponse is the body of every error produced by the relay itself.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TagsResponse mirrors the backend's GET /api/tags shape. Models are kept as
// raw JSON so fields the relay does not know about survive untouched.
type TagsResponse struct {
	Models []json.RawMessage `json:"models"`
}

type VersionResponse struct {
	Version string `json:"version"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Backends int    `json:"backends"`
}
