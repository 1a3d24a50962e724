// Package pipeline rewrites kernel display events before they reach
// subscribers.
//
// Plot libraries push images and rendered HTML through iopub as inline
// payloads, which makes every downstream consumer carry megabytes of
// base64. The transformer extracts the recognized fields (image/png,
// text/html, image/svg) to temp files, registers them with the artifact
// store, and substitutes the route key in place. Consumers fetch the
// bytes over the artifact routes when they actually render.
//
// Fields inside one event extract concurrently; the event itself is
// returned only when all of them settle. Callers that forward events
// one at a time therefore keep per-session ordering.
package pipeline
