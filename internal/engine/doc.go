// Package engine implements the completion cascade for workflow tasks.
//
// Completing a task is the only event that can make other tasks actionable.
// CompleteTask persists the completed transition, discovers the tasks that
// depend on it (scoped to the same workflow), and unblocks each dependent
// whose full dependency set is now satisfied. Downstream tasks beyond direct
// dependents are untouched: they unblock later, when their own dependencies
// complete.
//
// All mutations are conditional writes in the store, so concurrent
// completions, duplicate webhook deliveries, and racing cascade evaluations
// converge on the same terminal state instead of corrupting it. Per-dependent
// failures are isolated and enumerated in the CompletionResult; they never
// roll back the primary completion, which is already a true fact.
package engine
