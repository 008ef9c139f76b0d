package domain

import "errors"

// Inventory errors
var (
	// ErrNotFound indicates the requested file does not exist
	ErrNotFound = errors.New("file not found")

	// ErrNotFile indicates the name resolves to something other than a regular file
	ErrNotFile = errors.New("not a regular file")

	// ErrNotDirectory indicates the node root is not a directory
	ErrNotDirectory = errors.New("not a directory")

	// ErrPermissionDenied indicates insufficient permissions or a path escaping the root
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidName indicates a file name that is not a flat, syncable name
	ErrInvalidName = errors.New("invalid file name")

	// ErrTooLarge indicates a transfer exceeded the configured size limit
	ErrTooLarge = errors.New("file exceeds size limit")
)

// Network errors
var (
	// ErrNetworkError indicates a network-related failure
	ErrNetworkError = errors.New("network error")

	// ErrTimeout indicates operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrTrackerUnavailable indicates the tracker could not be reached
	ErrTrackerUnavailable = errors.New("tracker unavailable")

	// ErrMalformedManifest indicates the tracker answered with something that is not a manifest
	ErrMalformedManifest = errors.New("malformed manifest")

	// ErrPeerRefused indicates the peer answered a file request with an error
	ErrPeerRefused = errors.New("peer refused request")

	// ErrNoFreePort indicates no listening port could be bound
	ErrNoFreePort = errors.New("no free port available")
)

// Sync errors
var (
	// ErrSyncInProgress indicates another node already owns the root directory
	ErrSyncInProgress = errors.New("sync already in progress")
)

// Config errors
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")
)
