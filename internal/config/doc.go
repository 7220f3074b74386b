// Package config defines the format-agnostic configuration model of a
// migration run and the Loader interface that produces it.
//
// The Model is the single source of truth for the app package. Concrete
// loaders, such as the HCL one, live in separate packages and only fill the
// model; defaults and validation live here so every loader shares them.
package config
