package sync

import "errors"

var (
	// ErrOffline rejects operations that require connectivity.
	ErrOffline = errors.New("offline: sync will resume when a connection is available")

	// ErrSyncInFlight rejects a drain while another is in progress. The
	// caller's request is dropped, not deferred; the in-flight drain will
	// cover whatever it would have done.
	ErrSyncInFlight = errors.New("a sync pass is already in progress")
)
