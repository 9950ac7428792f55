// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package yellow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConnectionClosed is returned for every request pending when the
	// gateway connection drops, and for requests issued after.
	ErrConnectionClosed = errors.New("gateway connection closed")

	// ErrAuthenticationFailed is returned when the challenge handshake is
	// rejected. The orchestrator degrades to basic mode on this error.
	ErrAuthenticationFailed = errors.New("gateway authentication failed")

	// ErrNoSession is returned when a state submission targets a group
	// with no open session.
	ErrNoSession = errors.New("no open session for group")
)

// TimeoutError reports a request whose response never arrived within
// the deadline. It unwraps to context.DeadlineExceeded so callers can
// use a single errors.Is check for both local and gateway timeouts.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no response within %s", e.Operation, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}
