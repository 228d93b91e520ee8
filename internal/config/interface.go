package config

import "context"

// Loader is the interface for a format-specific manifest loader.
type Loader interface {
	// Load reads the manifest at path and translates it into the
	// format-agnostic model. Relative paths in the result are resolved
	// against the manifest's directory.
	Load(ctx context.Context, path string) (*Manifest, error)
}
