package store

import "errors"

// Storage error taxonomy. Local failures and remote failures are distinct so
// callers can choose between fatal (local database cannot open) and
// transient (network hiccup in cloud mode) surfacing.
var (
	// ErrStorageUnavailable means the embedded database could not be
	// opened at all. Fatal for local mode.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrStorageRead means a local read failed; the result set is
	// all-or-nothing, never partial.
	ErrStorageRead = errors.New("local storage read failed")

	// ErrStorageWrite means a local write failed (quota, aborted
	// transaction). The write either landed fully or not at all.
	ErrStorageWrite = errors.New("local storage write failed")

	// ErrRemoteUnavailable covers network, timeout, and auth failures
	// reaching the remote store.
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// ErrRemoteWrite covers permission-denied, constraint violations, and
	// network failures during a remote write. Callers treat the sub-cases
	// identically: retry or surface.
	ErrRemoteWrite = errors.New("remote write failed")
)
