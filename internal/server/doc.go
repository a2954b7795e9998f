// Package server hosts the Fiber HTTP surface of the resolution engine: the
// runtime bootstrap that wires config, storage, transport and the engine
// together, the request middleware chain (request IDs, recover, repository
// lookup), and the artifact handler that maps GET/HEAD/PUT on
// /<repoKey>/<path> onto Resolve and Deploy. Admin and diagnostics routes
// under /-/ live in the routes subpackage so this package stays free of
// operational concerns; keep exports narrow and accept explicit dependencies.
package server
