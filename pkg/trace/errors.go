// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ErrInvalidSettings is returned by Settings.Validate when a field holds
// an unusable value.
type ErrInvalidSettings struct {
	Field  string
	Reason string
}

func (e ErrInvalidSettings) Error() string {
	return fmt.Sprintf("invalid trace settings: field %q: %s", e.Field, e.Reason)
}

// ErrRawSocketUnavailable signals that the raw sockets the session needs
// could not be opened, typically missing CAP_NET_RAW. The session cannot
// run without them.
var ErrRawSocketUnavailable = errors.New("raw socket unavailable, missing capability or unsupported platform")

// transientIOError reports whether a socket error is worth retrying,
// like a poll deadline firing on read or the send buffer running full.
// EAGAIN surfaces as a net.Error timeout.
func transientIOError(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, unix.ENOBUFS)
}
