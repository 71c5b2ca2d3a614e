// Package provide implements a request-scoped dependency resolution engine.
// Providers are registered once at process start with explicit dependency
// lists, and resolved per request through a Context that caches each result,
// detects cycles, and tracks teardowns for resources acquired along the way.
//
// A Registry holds the graph and is sealed before serving begins. A Resolver
// walks it depth-first for each request; cached providers additionally
// memoize into a process-wide Store with single-flight semantics. The
// transport layer stays outside: it seeds raw request values as leaf
// providers, asks for its targets, and maps the returned error kinds to
// whatever its protocol needs.
package provide
