// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package util holds small helpers shared across packages.
package util

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Wrapf wraps *errp with the given message, if *errp is non-nil.
// It is intended to be deferred at the top of a function:
//
//	defer util.Wrapf(&err, "doing thing(%q)", arg)
func Wrapf(errp *error, format string, args ...any) {
	if *errp != nil {
		*errp = fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), *errp)
	}
}

// IsLoopback reports whether addr refers to the local host.
func IsLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// Might be a bare host without a port.
		host = strings.Trim(addr, "[]")
	}
	if host == "localhost" {
		return true
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return ip.IsLoopback()
}
