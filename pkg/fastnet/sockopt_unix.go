// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !windows

package fastnet

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenConfig enables SO_BROADCAST for discovery and, if requested,
// SO_REUSEADDR before the bind.
func listenConfig(reuseAddress bool) net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
				if sockErr == nil && reuseAddress {
					sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

// isSilentSendError checks for send failures that are dropped without any
// event: oversized datagrams and unreachable hosts.
func isSilentSendError(err error) bool {
	return errors.Is(err, unix.EMSGSIZE) || errors.Is(err, unix.EHOSTUNREACH)
}
