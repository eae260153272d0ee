// Package core implements the route-table migration engine.
//
// The engine owns no transport or storage. It is driven through [Service],
// which reads and writes through a [Store] and reads and writes
// spreadsheets through package workbook. Handlers, CLIs and tests call the
// same methods.
//
// # Data flow
//
//  1. [Service.IngestFile] parses an upload and creates a route table whose
//     records are coerced from the first sheet by [RouteFieldSpecs].
//  2. [Service.CreateSession] pairs a source table with a target table.
//  3. [Service.GetComparison] pages the source records, annotating each
//     with whether it already exists in the target.
//  4. [Service.SetSelection] marks records for transfer.
//  5. [Service.ExecuteMigration] copies the selection into the target.
//  6. [Service.Export] renders a table back to xlsx.
//
// # Matching
//
// Comparison uses a [MatchStrategy]. The simple strategy matches the route
// identifier ignoring case; empty identifiers never match. The advanced
// strategy takes an [AdvancedFilter] naming the fields that identify an
// entity and the fields whose difference makes a record updatable.
//
// Execution uses its own rule: identifiers are compared exactly. A record
// previewed as present under a case-insensitive match can therefore still
// be inserted by an execution. This mirrors the behaviour operators already
// rely on and is kept until the two rules are reconciled.
//
// # Errors
//
// Operations wrap one of [ErrValidation], [ErrNotFound], [ErrEmptySelection],
// [ErrParse], [ErrBusy] or [ErrExecutionInProgress]. [MapError] turns any
// error into a coded [UserMessage].
package core
