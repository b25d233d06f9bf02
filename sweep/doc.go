// Package sweep implements the measurement sequencing engine: it translates a
// user-chosen protocol (standard sweep, custom sequence, or write-read-erase-read
// cycling) into an ordered stream of instrument commands and sampled results.
//
// The engine is organized leaf-first:
//
//   - Interlock validates compliance and voltage bounds before any instrument action.
//   - BuildPlan compiles a Protocol into an immutable SegmentPlan of primitive steps.
//   - Driver executes a plan under one of two timing disciplines: host-paced
//     (cooperative loop on the host, prompt cancellation) or device-paced
//     (one pre-compiled instrument script, tighter timing, coarser cancellation).
//   - Controller owns the run lifecycle (Idle, Armed, Running, Finalizing) and is
//     the only component allowed to issue instrument commands during a run.
//
// A single run may be active at a time. Samples flow to registered RunObserver
// implementations in strictly increasing index and elapsed-time order.
package sweep
