// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build windows

package fastnet

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/windows"
)

func listenConfig(reuseAddress bool) net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, 1)
				if sockErr == nil && reuseAddress {
					sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
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
// event: WSAEMSGSIZE (10040) and WSAEHOSTUNREACH (10065).
func isSilentSendError(err error) bool {
	return errors.Is(err, windows.WSAEMSGSIZE) || errors.Is(err, windows.WSAEHOSTUNREACH)
}
