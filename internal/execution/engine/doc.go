// Package engine drives a tester through a frozen, ordered selection of test
// cases and records exactly one terminal outcome per case.
//
// A Session moves Configuring -> Running -> Completed. A failing outcome
// suspends the session in AwaitingDefectDetails until the defect form is
// submitted or cancelled. Every transition that writes waits for the store:
// on a failed write the session keeps its state and index so the caller can
// retry the same transition, and retries never count an outcome twice.
//
// Only one transition may be in flight per session; a concurrent call fails
// fast with ErrBusy.
package engine
