// Package tables registers the record types served by the exchange.
// Import this package to ensure all types are registered.
package tables

// This file exists to provide a single import point.
// Each type file uses init() to register its descriptor.
