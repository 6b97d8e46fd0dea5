// Package archive copies a paired session's credential files to durable
// remote storage.
package archive

import "context"

// Archiver uploads the credential directory of a session.
type Archiver interface {
	// Archive uploads every regular file in credPath and returns a locator for
	// the archived copy. An empty locator with a nil error means archival was
	// skipped.
	Archive(ctx context.Context, sessionID, credPath string) (string, error)
}

// Noop skips archival.
type Noop struct{}

// Archive implements Archiver.
func (Noop) Archive(context.Context, string, string) (string, error) { return "", nil }
