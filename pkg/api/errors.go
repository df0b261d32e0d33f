// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"errors"
	"fmt"
)

// ErrInvalidListenAddress is returned when the api address is not a
// usable host:port pair
var ErrInvalidListenAddress = errors.New("invalid api listen address")

type ErrCreateOpenapiSchema struct {
	name string
	err  error
}

func (e ErrCreateOpenapiSchema) Error() string {
	return fmt.Sprintf("failed to get schema for %s: %v", e.name, e.err)
}
