// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fastnet

import (
	"context"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/DanisJoyal/FastNetLib/pkg/packet"
)

// datagram is one received UDP packet handed from a pump goroutine to the
// tick thread.
type datagram struct {
	data []byte
	addr *net.UDPAddr
}

// socket wraps up to two UDP sockets, one per address family. Each one is
// drained by a pump goroutine feeding the shared incoming channel; all
// sending happens on the tick thread.
type socket struct {
	conn4 *net.UDPConn
	conn6 *net.UDPConn

	incoming chan datagram
	closed   chan struct{}
}

// newSocket binds the configured address families on port. The bind applies
// SO_BROADCAST and, if configured, SO_REUSEADDR.
func newSocket(conf *Config, addr4, addr6 string, port int) (*socket, error) {
	s := &socket{
		incoming: make(chan datagram, 256),
		closed:   make(chan struct{}),
	}

	if conf.EnableIPv4 {
		if addr4 == "" {
			addr4 = "0.0.0.0"
		}
		conn, err := bindUDP("udp4", addr4, port, conf.ReuseAddress)
		if err != nil {
			return nil, err
		}
		s.conn4 = conn
	}

	if conf.EnableIPv6 {
		if addr6 == "" {
			addr6 = "::"
		}
		conn, err := bindUDP("udp6", addr6, port, conf.ReuseAddress)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.conn6 = conn
	}

	if s.conn4 == nil && s.conn6 == nil {
		return nil, fmt.Errorf("neither IPv4 nor IPv6 is enabled")
	}

	for _, conn := range []*net.UDPConn{s.conn4, s.conn6} {
		if conn != nil {
			go s.pump(conn)
		}
	}

	return s, nil
}

func bindUDP(network, address string, port int, reuseAddress bool) (*net.UDPConn, error) {
	lc := listenConfig(reuseAddress)

	conn, err := lc.ListenPacket(context.Background(), network, net.JoinHostPort(address, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, fmt.Errorf("binding %s %s:%d failed: %w", network, address, port, err)
	}

	log.WithFields(log.Fields{
		"network": network,
		"address": conn.LocalAddr(),
	}).Info("Bound UDP socket")

	return conn.(*net.UDPConn), nil
}

// pump reads datagrams into the incoming channel until the socket closes.
func (s *socket) pump(conn *net.UDPConn) {
	buf := make([]byte, packet.MaxPacketSize)

	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
			default:
				log.WithError(err).Debug("UDP receive errored")
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case s.incoming <- datagram{data: data, addr: addr}:
		case <-s.closed:
			return
		}
	}
}

// Receive waits for the next datagram until the deadline. The ok result is
// false once the deadline passed or the socket closed.
func (s *socket) Receive(deadline time.Time) (datagram, bool) {
	wait := time.Until(deadline)
	if wait <= 0 {
		select {
		case dgram := <-s.incoming:
			return dgram, true
		default:
			return datagram{}, false
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case dgram := <-s.incoming:
		return dgram, true
	case <-timer.C:
		return datagram{}, false
	case <-s.closed:
		return datagram{}, false
	}
}

// SendTo writes one datagram, choosing the socket by the address family.
func (s *socket) SendTo(data []byte, addr *net.UDPAddr) error {
	conn := s.conn4
	if addr.IP.To4() == nil {
		conn = s.conn6
	}
	if conn == nil {
		return fmt.Errorf("no socket is bound for the address family of %v", addr)
	}

	_, err := conn.WriteToUDP(data, addr)
	return err
}

// Broadcast writes one datagram to the IPv4 broadcast address on port.
func (s *socket) Broadcast(data []byte, port int) error {
	if s.conn4 == nil {
		return fmt.Errorf("broadcast requires an IPv4 socket")
	}

	_, err := s.conn4.WriteToUDP(data, &net.UDPAddr{IP: net.IPv4bcast, Port: port})
	return err
}

// LocalPort returns the bound port.
func (s *socket) LocalPort() int {
	if s.conn4 != nil {
		return s.conn4.LocalAddr().(*net.UDPAddr).Port
	}
	if s.conn6 != nil {
		return s.conn6.LocalAddr().(*net.UDPAddr).Port
	}
	return 0
}

// Close shuts both sockets and stops the pumps.
func (s *socket) Close() {
	select {
	case <-s.closed:
		return
	default:
		close(s.closed)
	}

	for _, conn := range []*net.UDPConn{s.conn4, s.conn6} {
		if conn != nil {
			conn.Close()
		}
	}
}
