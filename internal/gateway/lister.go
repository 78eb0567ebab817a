package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nulzo/ollama-relay/internal/httpclient"
	"github.com/nulzo/ollama-relay/internal/registry"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultListingTimeout bounds each backend's /api/tags call. Listing is
// interactive discovery, so a dead backend must not hold up the others.
const DefaultListingTimeout = 5 * time.Second

// maxTagsBody caps how much of a single backend's listing is read.
const maxTagsBody = 16 << 20

// Lister aggregates /api/tags across every registered backend.
type Lister struct {
	registry *registry.Registry
	client   httpclient.HTTPClient
	timeout  time.Duration
	log      *zap.Logger
}

func NewLister(reg *registry.Registry, client httpclient.HTTPClient, timeout time.Duration, log *zap.Logger) *Lister {
	if timeout <= 0 {
		timeout = DefaultListingTimeout
	}
	return &Lister{
		registry: reg,
		client:   client,
		timeout:  timeout,
		log:      log,
	}
}

// ListAll queries every backend concurrently and returns their models in
// registry order, each renamed to "service/name". Failing backends contribute
// nothing; the result is never nil.
func (l *Lister) ListAll(ctx context.Context) []json.RawMessage {
	backends := l.registry.Backends()
	results := make([][]json.RawMessage, len(backends))

	var g errgroup.Group
	for i, b := range backends {
		g.Go(func() error {
			models, err := l.listBackend(ctx, b)
			if err != nil {
				l.log.Warn("Failed to list models from backend",
					zap.String("service", b.Name),
					zap.String("base_url", b.BaseURL),
					zap.Error(err),
				)
				return nil
			}
			results[i] = models
			return nil
		})
	}
	_ = g.Wait()

	merged := make([]json.RawMessage, 0)
	for _, models := range results {
		merged = append(merged, models...)
	}
	return merged
}

func (l *Lister) listBackend(ctx context.Context, b registry.Backend) ([]json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	body, err := httpclient.FetchJSON(ctx, l.client, b.BaseURL+"/api/tags", maxTagsBody)
	if err != nil {
		return nil, err
	}

	list := gjson.GetBytes(body, "models")
	if !list.Exists() || list.Type == gjson.Null {
		l.log.Debug("Backend listing has no models field", zap.String("service", b.Name))
		return nil, nil
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("models is not an array (got %s)", list.Type)
	}

	var (
		models  []json.RawMessage
		tagErr  error
		skipped int
	)
	list.ForEach(func(_, m gjson.Result) bool {
		if !m.IsObject() {
			skipped++
			return true
		}

		raw := []byte(m.Raw)
		if name := m.Get("name"); name.Type == gjson.String {
			raw, tagErr = sjson.SetBytes(raw, "name", b.Name+"/"+name.Str)
			if tagErr != nil {
				return false
			}
		}
		models = append(models, raw)
		return true
	})
	if tagErr != nil {
		return nil, fmt.Errorf("tagging model names: %w", tagErr)
	}

	if skipped > 0 {
		l.log.Debug("Dropped non-object entries from backend listing",
			zap.String("service", b.Name),
			zap.Int("count", skipped),
		)
	}

	return models, nil
}
