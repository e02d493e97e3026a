// Package core provides the business logic for CRM CSV import and export.
//
// This package contains all domain logic independent of any transport. It is
// used by the HTTP handlers, the CLI and the queue worker without
// modification.
//
// # Architecture
//
//   - Entity Configs: per-entity columns, required fields, enum values,
//     synonyms and natural keys, registered via [Register] (the shipped
//     configs live in the entities subpackage as YAML).
//   - Header Mapper: maps raw CSV headers to canonical field names.
//   - Converters: turn raw cells into typed values ([ConvertValue]).
//   - Validator and Duplicate Checker: gate each candidate record.
//   - Processor: orchestrates a run and returns a [ProcessingResult].
//   - Exporter: renders stored records back to CSV or XLSX.
//   - Service: asynchronous runs with progress, cancellation and a
//     concurrency limit.
//
// # Import Flow
//
//  1. Client calls [Service.StartImport] (or [Processor.Process] directly)
//  2. Input is decoded to UTF-8 and parsed; an empty file fails here
//  3. Headers are mapped once, then each row is converted, defaulted,
//     validated, checked for duplicates and inserted or updated
//  4. Progress is broadcast to subscribers via [Service.SubscribeProgress]
//
// Row-level problems never abort a run. They are collected as [RowError]
// values with 1-based data row numbers.
//
// # Persistence
//
// Records are written through the [Store] interface. Implementations live in
// internal/store (memory, PostgreSQL, SQLite, MySQL).
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has a code prefix for support reference: DB, VAL, FILE, IMP,
// ENT, EXP and RATE.
package core
