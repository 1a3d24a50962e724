// Package artifacts maps short route keys to files extracted from
// kernel events.
//
// Large display payloads (plots, rendered HTML, SVG) are written to
// temp files by the event pipeline and registered here; the event then
// carries a route key instead of megabytes of inline data. The route
// table is append-only for the life of the process: resolving a key a
// client saw minutes ago always works, including after promotion.
//
// Built on specialized libraries:
//   - go-nanoid: route key derivation
//   - mimetype: content-type detection from file magic
//   - blake2b: artifact checksums
//   - goquery, chardet, bluemonday: HTML title, charset, and sanitized preview
//
// Example Usage:
//
//	store, err := artifacts.New(cfg.Artifacts.Dir, logger, metrics)
//	key, err := store.AddRoute("/tmp/plot-1.png", "")
//	path, err := store.Resolve(key)
//	err = store.Promote(key, "/home/user/notebook/plot.png")
package artifacts
