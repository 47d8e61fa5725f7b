// Package infra groups the adapters behind the core interfaces: broker,
// Postgres stores, metrics sinks, geocoder, logging and error monitoring.
// Nothing under core imports these packages.
package infra
