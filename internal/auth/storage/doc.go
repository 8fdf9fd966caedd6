// Package storage defines the persistence contract for the auth subsystem.
//
// All cross-request state (users, credentials, challenges, sessions) lives
// behind these interfaces so ceremony correctness never depends on which
// process serves each half of a ceremony. Reads filter on active/unexpired
// rows; expired rows are only ever removed by explicit sweeps.
package storage
