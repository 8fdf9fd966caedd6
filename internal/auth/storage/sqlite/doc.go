// Package sqlite implements auth persistence over a single SQLite file.
//
// The database opens in WAL mode with foreign keys and a busy timeout so
// multiple dashboard processes can share it safely. Uniqueness constraints
// (username, credential id, challenge value, session token hash) are the
// coordination mechanism between writers; no application-level locks exist.
package sqlite
