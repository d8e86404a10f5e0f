// Package bridge is the native bridge between an FFI caller and the inference
// engine. It is structured into small files by concern:
//
//   - bridge.go: Bridge type, Initialize/Cleanup lifecycle, lookup and retire.
//   - config.go: Config and package defaults; NewWithConfig applies defaults.
//   - types.go: State, Handle, Instance, GenerateRequest, Result.
//   - errors.go: Error and Kind, plus Is* helpers.
//   - load.go: Load (validate, probe, budget, engine load, supersede).
//   - evict.go: LRU eviction to fit the memory budget.
//   - admission.go: per-instance queueing and single in-flight generation.
//   - generate.go: Generate/GenerateWith and parameter merging.
//   - info.go, status.go: model info and status reporting.
//   - unload.go: explicit unload with drain.
//   - ledger.go: ownership ledger for strings handed to the caller.
//   - ffi.go: sentinel adapter used by the cgo surface in cmd/llamabridge.
//   - events.go: lifecycle events.
//
// Lifecycle: uninitialized → initialized → closed, with closed → initialized
// through Initialize. Handles are never reused within a Bridge, so a stale
// handle fails with KindInvalidHandle instead of reaching another model.
package bridge
