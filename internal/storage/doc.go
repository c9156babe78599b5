// Package storage persists the bot state document and the audit trail.
//
// Drivers: "file" (JSON document plus JSON Lines audit), "sqlite"
// (modernc.org/sqlite, no cgo) and "memory" (tests, dry runs).
package storage
