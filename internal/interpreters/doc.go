// Package interpreters finds and validates runtimes that can back a
// kernel session.
//
// Three pieces work together. The Registry loads named launch specs
// from a YAML file and hot-reloads it on change, so a user can point
// the app at a new virtualenv without restarting. Discover sweeps the
// registry's roots with glob patterns like **/bin/python3* and returns
// executable candidates the user never registered. The Prober answers
// "does this command actually speak the protocol" by launching a real
// kernel, recording its ready banner, and killing it.
//
// Built on specialized libraries:
//   - goccy/go-yaml: registry file parsing
//   - fsnotify: hot reload on registry edits
//   - fastwalk + doublestar: parallel discovery sweeps
//
// Probes run behind a per-command circuit breaker, so a broken install
// stops costing a subprocess spawn per check once it has failed a few
// times in a row.
package interpreters
