// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the build lifecycle, decoupled from any
// specific entrypoint like a CLI or a go:generate directive.
package app
