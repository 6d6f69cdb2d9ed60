// Package core provides the business logic for multi-entity imports and
// exports.
//
// This package contains the diff-aware import engine independent of any UI
// or transport layer. It is used by the web handlers, the CLI, and tests
// without modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Descriptors: Each importable entity is declared by a [Descriptor]
//     listing its column mappings, lookup fields and update policy. [Bind]
//     checks it against the model catalog and produces an [Entity].
//   - Importer: Reads rows, matches them to stored records, diffs, validates
//     and saves them for one entity.
//   - MultiImporter: Routes files to entities by their ID column and runs the
//     importers in dependency order inside one store transaction.
//   - Service: The entry point for transports. Adds file size checks, the
//     [ImportLimiter] and metrics recording.
//
// # Modes
//
// Every import runs the same pipeline in one of three modes:
//
//  1. [ModePreview] computes the diff and rolls back
//  2. [ModeCommit] saves the changes when no row has errors
//  3. [ModeReplay] rebuilds rows from a recorded [Diff] and saves them
//
// A preview result can be turned into diffs with [MultiImportResult.Diffs]
// and committed later with [MultiImporter.Replay].
//
// # Forward References
//
// Rows may reference records created earlier in the same batch. New records
// are kept in the per-operation [ImportContext] and relationship columns are
// resolved against it before the store is queried.
//
// # Error Handling
//
// Row problems are collected on the result and never returned as Go errors.
// Configuration problems are returned from [Bind] and [NewMultiImporter].
// Technical errors are mapped to user-friendly messages using [MapError]:
//
//   - IMP001-IMP005: Import errors (busy, no files, invalid data)
//   - FILE001-FILE005: File errors (size, encoding, format)
//   - CFG001-CFG003: Catalog and export key errors
//   - DB001-DB004: Store errors
package core
