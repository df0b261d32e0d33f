// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
)

// ErrInvalidConfig is returned when a configuration field is invalid
type ErrInvalidConfig struct {
	Field  string
	Reason string
}

func (e ErrInvalidConfig) Error() string {
	return fmt.Sprintf("invalid configuration field %q: %s", e.Field, e.Reason)
}

// ErrTargetUnresolvable is returned when the target cannot be resolved
// to an address of the requested family
type ErrTargetUnresolvable struct {
	Target string
	Err    error
}

func (e ErrTargetUnresolvable) Error() string {
	return fmt.Sprintf("failed to resolve target %q: %v", e.Target, e.Err)
}

func (e ErrTargetUnresolvable) Unwrap() error {
	return e.Err
}
