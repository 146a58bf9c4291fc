// Package telemetry builds the per-cycle telemetry packet.
//
// A Builder combines a sensor Snapshot with the auxiliary readings cached
// from the radio link. Each cycle it advances the flight phase Machine,
// updates the DescentEstimator, evaluates the six fault rules and issues the
// next number from the persisted Sequence. Packets render to the
// comma-separated record that is logged to storage and to the $record*HH
// frame that goes out over the radio.
package telemetry
