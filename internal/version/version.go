package version

import (
	"github.com/hashicorp/go-version"
)

// AppVersion is overridden at build time:
//
//	go build -ldflags "-X github.com/nulzo/ollama-relay/internal/version.AppVersion=v1.2.3"
var AppVersion = "v0.1.0"

const fallback = "0.0.0"

// Version returns AppVersion in canonical semver form without the "v"
// prefix, the shape Ollama clients expect from /api/version.
func Version() string {
	return normalize(AppVersion)
}

func normalize(raw string) string {
	v, err := version.NewVersion(raw)
	if err != nil {
		return fallback
	}
	return v.String()
}
