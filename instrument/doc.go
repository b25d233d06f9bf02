// Package instrument defines the transport contract between the measurement
// sequencing engine and a single source-measure channel.
//
// The engine only drives the primitives in the Instrument interface; dialect
// details (SCPI command text, TSP scripting) live behind it. The keithley
// package provides the production implementation, Sim provides a deterministic
// in-memory implementation for examples and tests.
package instrument
