// Package storage persists user reminder profiles, dispatch records and the
// audit trail in a single SQLite database.
package storage
