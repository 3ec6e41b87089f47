package ec

import (
	"codeberg.org/mutker/clevoctl/internal/errors"
)

const (
	// Port I/O errors
	ErrPortOpenFailed = errors.ErrorCode("ec_port_open_failed")
	ErrPortIO         = errors.ErrorCode("ec_port_io_failed")

	// Handshake errors
	ErrHandshakeTimeout = errors.ErrorCode("ec_handshake_timeout")

	// Snapshot errors
	ErrSnapshotUnavailable  = errors.ErrorCode("ec_snapshot_unavailable")
	ErrSnapshotSizeMismatch = errors.ErrorCode("ec_snapshot_size_mismatch")
)

// IsSizeMismatch reports whether err is a recoverable short snapshot read.
func IsSizeMismatch(err error) bool {
	return errors.HasCode(err, ErrSnapshotSizeMismatch)
}

// IsUnavailable reports whether err means the snapshot channel is gone.
func IsUnavailable(err error) bool {
	return errors.HasCode(err, ErrSnapshotUnavailable)
}
