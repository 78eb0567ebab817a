package registry

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/nulzo/ollama-relay/internal/config"
	"github.com/nulzo/ollama-relay/internal/validator"
	"go.uber.org/zap"
)

// Backend is one configured model-serving service.
type Backend struct {
	Name    string
	BaseURL string
}

// Registry maps service names onto backends. It is built once at startup and
// never mutated, so concurrent readers need no locking.
type Registry struct {
	backends map[string]Backend
	order    []string
}

// Build registers every AI_SERVICE_* entry of raw whose value is a usable
// base URL. Invalid entries are logged and skipped; an empty registry is
// still a valid result.
func Build(raw map[string]string, log *zap.Logger) *Registry {
	r := &Registry{backends: make(map[string]Backend)}
	validate := validator.New()

	for key, value := range raw {
		if !strings.HasPrefix(key, config.ServicePrefix) {
			continue
		}

		name := strings.TrimPrefix(key, config.ServicePrefix)
		if name == "" {
			log.Warn("Skipping backend without a service name", zap.String("key", key))
			continue
		}

		baseURL, err := normalizeBaseURL(validate, value)
		if err != nil {
			log.Warn("Skipping backend with invalid base URL",
				zap.String("service", name),
				zap.String("value", value),
				zap.Error(err),
			)
			continue
		}

		r.backends[name] = Backend{Name: name, BaseURL: baseURL}
		r.order = append(r.order, name)
	}

	sort.Strings(r.order)

	for _, name := range r.order {
		log.Info("Registered backend",
			zap.String("service", name),
			zap.String("base_url", r.backends[name].BaseURL),
		)
	}

	if len(r.order) == 0 {
		log.Warn("No backends were registered. Proxied requests will fail until AI_SERVICE_* is configured.")
	}

	return r
}

// normalizeBaseURL checks the value parses with an http(s) scheme and a host,
// then trims trailing slashes so "/api/..." can be appended directly.
func normalizeBaseURL(validate *validator.Validator, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if err := validate.Var(raw, "required,url"); err != nil {
		return "", err
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("base URL must not carry a query or fragment")
	}

	return strings.TrimRight(raw, "/"), nil
}

// Lookup returns the backend registered under name. Names are case-sensitive.
func (r *Registry) Lookup(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Backends returns all backends in registry order (sorted by service name).
func (r *Registry) Backends() []Backend {
	out := make([]Backend, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.backends[name])
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.order)
}
