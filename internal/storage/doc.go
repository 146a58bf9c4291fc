// Package storage persists telemetry packets.
//
// CSVLog is the primary record: an append-only CSV log synced after every
// row and rotated by size. Emergency files are standalone one-row logs
// written when the main path cannot accept a packet. InfluxMirror is an
// optional best-effort copy to a time-series database.
package storage
