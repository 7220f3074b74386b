// Package app contains the core application logic. It wires configuration,
// storage and platform clients together and exposes one method per
// migration stage, decoupled from any specific entrypoint like a CLI.
package app
