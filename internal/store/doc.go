// Package store persists workflow task records in SQLite.
//
// The store is the single source of truth for task status. All status
// transitions are conditional single-row writes guarded by the current
// status, so concurrent callers (UI actions, provider webhooks, cascade
// evaluations) can race freely: the loser of any race sees
// transitioned=false instead of corrupting state.
//
// Bulk operations - instantiation and workflow reset - run in one
// transaction each, keeping the per-workflow task set all-or-nothing.
//
// Dependencies, metadata, and comments live in JSON columns. Dependent
// discovery uses json_each scoped by the indexed workflow_id column;
// e-signature correlation ids are mirrored into dedicated indexed columns
// at write time.
package store
