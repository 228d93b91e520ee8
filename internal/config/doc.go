// Package config defines the format-agnostic build manifest and the Loader
// interface that produces it.
//
// The `config.Manifest` is the single source of truth for the `app` package
// when it assembles a build. Concrete loaders, such as the HCL one, are
// provided in separate packages.
package config
