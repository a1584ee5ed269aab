// Package types provides core type definitions and interfaces for the dispenser library.
//
// This package holds the types shared between the root dispenser package, its
// internal components and the primary store adapters. Keeping them here lets
// store/ and internal/ packages depend on the contracts without importing the
// root package (which would create an import cycle).
//
// Key types:
//   - Mode: Active backend (primary or fallback)
//   - PrimaryStore: Atomic pop/probe/snapshot contract for the inventory backend
//   - Ticket: A dispensed token and the backend that served it
//   - MetricsSnapshot: Point-in-time view of the dispensing counters
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types
