package pipeline

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wckdouglas/rodeo/internal/artifacts"
	"github.com/wckdouglas/rodeo/internal/infrastructure/monitoring"
	"github.com/wckdouglas/rodeo/internal/shared/types"
)

// displayTypes are the iopub message types whose data payloads carry
// inline display fields.
var displayTypes = map[string]bool{
	"display_data":        true,
	"execute_result":      true,
	"update_display_data": true,
}

// field is one recognized display payload entry. Binary fields arrive
// base64-encoded and are decoded before hitting disk.
type field struct {
	name   string
	ext    string
	binary bool
}

var fields = []field{
	{name: "image/png", ext: ".png", binary: true},
	{name: "text/html", ext: ".html"},
	{name: "image/svg", ext: ".svg"},
}

// Transformer rewrites large inline display payloads into artifact
// route keys so subscribers move file references instead of megabytes
// of base64.
type Transformer struct {
	store   *artifacts.Store
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// New creates a transformer persisting payloads through store.
func New(store *artifacts.Store, logger *zap.Logger, metrics *monitoring.Metrics) *Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{store: store, logger: logger, metrics: metrics}
}

// Transform returns ev with every recognized display field replaced by
// an artifact route key. Field extractions run concurrently but the
// call returns only once all of them settle, so callers forwarding
// events one at a time keep their ordering intact.
//
// The rewrite is idempotent per field: values already holding a route
// key are left alone, absent fields are never fabricated, and a field
// whose extraction fails keeps its original inline value. Events that
// are not display data pass through unchanged.
func (t *Transformer) Transform(ev types.Event) types.Event {
	if t == nil || ev.Kind != types.EventIOPub || !displayTypes[ev.Type] || len(ev.Payload) == 0 {
		return ev
	}
	data := gjson.GetBytes(ev.Payload, "data")
	if !data.IsObject() {
		return ev
	}

	keys := make([]string, len(fields))
	var g errgroup.Group
	for i, f := range fields {
		raw := data.Get(f.name)
		if raw.Type != gjson.String || raw.Str == "" {
			continue
		}
		if artifacts.IsRouteKey(raw.Str) {
			continue
		}
		i, f, value := i, f, raw.Str
		g.Go(func() error {
			key, err := t.extract(f, value)
			if err != nil {
				t.logger.Warn("display field extraction failed",
					zap.String("field", f.name),
					zap.String("type", ev.Type),
					zap.Error(err))
				return nil
			}
			keys[i] = key
			return nil
		})
	}
	_ = g.Wait()

	out := ev.Payload
	for i, f := range fields {
		if keys[i] == "" {
			continue
		}
		rewritten, err := sjson.SetBytes(out, "data."+f.name, keys[i])
		if err != nil {
			t.logger.Error("event rewrite failed", zap.String("field", f.name), zap.Error(err))
			return ev
		}
		out = rewritten
	}
	ev.Payload = out
	return ev
}

// extract persists one field value as a temp file and registers a route
// for it.
func (t *Transformer) extract(f field, value string) (string, error) {
	data := []byte(value)
	if f.binary {
		decoded, err := base64.StdEncoding.DecodeString(stripLineBreaks(value))
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", f.name, err)
		}
		data = decoded
	}

	file, err := t.store.CreateTemp("display-*" + f.ext)
	if err != nil {
		return "", err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}

	key, err := t.store.AddRoute(file.Name(), "")
	if err != nil {
		return "", err
	}
	t.metrics.RecordArtifact(f.name, int64(len(data)))
	return key, nil
}

// stripLineBreaks removes the newlines kernels wrap base64 output with.
func stripLineBreaks(s string) string {
	if !strings.ContainsAny(s, "\n\r") {
		return s
	}
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}
