// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net"
)

// Config is the configuration of the HTTP API server.
type Config struct {
	// ListenAddress is the address the API listens on, host:port.
	ListenAddress string `yaml:"address" mapstructure:"address"`
}

func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return ErrInvalidListenAddress
	}
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return ErrInvalidListenAddress
	}
	return nil
}
