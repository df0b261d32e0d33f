// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package codec

import "errors"

// Decode errors are never fatal: the correlator discards the frame and
// keeps count. They exist as sentinels so callers can tell corrupt
// traffic from merely unrelated traffic.
var (
	// ErrTruncated is returned for frames too short to carry the
	// claimed header.
	ErrTruncated = errors.New("truncated frame")
	// ErrChecksumMismatch is returned when the one's-complement
	// checksum of an inbound frame does not verify.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrUnrecognized is returned for structurally valid frames of a
	// type the trace has no use for.
	ErrUnrecognized = errors.New("unrecognized frame")
)
