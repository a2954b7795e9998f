// Package storage is the filesystem collaborator of the resolution engine. It
// maps a PathKey onto StoragePath/<repo>/<path>, writes through a temp file
// that is renamed into place only after checksum verification succeeded, and
// keeps a JSON sidecar with checksums, validators and content type so that
// later reads can answer without re-hashing the body.
package storage
