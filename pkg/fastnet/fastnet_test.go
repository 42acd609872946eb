// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fastnet

import (
	"bytes"
	"fmt"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/DanisJoyal/FastNetLib/pkg/netdata"
	"github.com/DanisJoyal/FastNetLib/pkg/packet"
)

// recordingListener collects every callback. The tests drive all managers
// from one goroutine, so no locking is needed.
type recordingListener struct {
	connects    int
	disconnects []DisconnectInfo
	discData    [][]byte

	receives  [][]byte
	methods   []packet.DeliveryMethod
	latencies int

	unconnected      [][]byte
	unconnectedKinds []UnconnectedMessageType

	errors []error

	// acceptRequests answers connection requests when no passcode does.
	acceptRequests bool
}

func (l *recordingListener) OnPeerConnected(*Peer) {
	l.connects++
}

func (l *recordingListener) OnPeerDisconnected(_ *Peer, info DisconnectInfo) {
	l.disconnects = append(l.disconnects, info)

	var data []byte
	if info.AdditionalData != nil {
		data = append([]byte{}, info.AdditionalData.Data()...)
	}
	l.discData = append(l.discData, data)
}

func (l *recordingListener) OnNetworkError(_ *net.UDPAddr, err error) {
	l.errors = append(l.errors, err)
}

func (l *recordingListener) OnNetworkReceive(_ *Peer, reader *netdata.Reader, method packet.DeliveryMethod, _ uint8) {
	l.receives = append(l.receives, append([]byte{}, reader.Data()...))
	l.methods = append(l.methods, method)
}

func (l *recordingListener) OnNetworkReceiveUnconnected(_ *net.UDPAddr, reader *netdata.Reader, kind UnconnectedMessageType) {
	l.unconnected = append(l.unconnected, append([]byte{}, reader.Data()...))
	l.unconnectedKinds = append(l.unconnectedKinds, kind)
}

func (l *recordingListener) OnNetworkLatencyUpdate(*Peer, time.Duration) {
	l.latencies++
}

func (l *recordingListener) OnConnectionRequest(request *ConnectionRequest) {
	if l.acceptRequests {
		request.Accept()
	} else {
		request.Reject([]byte("no"))
	}
}

// startManager brings up a manager on an ephemeral loopback port.
func startManager(t *testing.T, conf *Config, listener EventListener) *Manager {
	t.Helper()

	m := NewManager(conf, listener)
	if err := m.Start("127.0.0.1", "", 0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if m.IsRunning() {
			m.Stop()
		}
	})
	return m
}

// runUntil ticks until cond holds, failing after maxTicks.
func runUntil(t *testing.T, maxTicks int, budget time.Duration, cond func() bool, managers ...*Manager) {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		if cond() {
			return
		}
		for _, m := range managers {
			if err := m.Run(budget); err != nil {
				t.Fatal(err)
			}
		}
	}
	if !cond() {
		t.Fatalf("Condition not met within %d ticks", maxTicks)
	}
}

func serverAddr(m *Manager) string {
	return fmt.Sprintf("127.0.0.1:%d", m.LocalPort())
}

func connectPair(t *testing.T, serverConf, clientConf *Config, key []byte) (server, client *Manager, serverL, clientL *recordingListener) {
	t.Helper()

	serverL = &recordingListener{acceptRequests: true}
	clientL = &recordingListener{}

	server = startManager(t, serverConf, serverL)
	client = startManager(t, clientConf, clientL)

	if _, err := client.ConnectTo(serverAddr(server), key); err != nil {
		t.Fatal(err)
	}

	runUntil(t, 10, 15*time.Millisecond, func() bool {
		return serverL.connects == 1 && clientL.connects == 1
	}, server, client)

	return
}

func TestConnectWithPasscode(t *testing.T) {
	serverConf := DefaultConfig()
	serverConf.MaxConnections = 1
	serverConf.PasscodeKey = "k"

	server, client, _, _ := connectPair(t, serverConf, DefaultConfig(), []byte("k"))

	if server.PeersCount() != 1 || client.PeersCount() != 1 {
		t.Fatalf("Peer counts are %d/%d, expected 1/1", server.PeersCount(), client.PeersCount())
	}
}

func TestConnectRejectedByPasscode(t *testing.T) {
	serverConf := DefaultConfig()
	serverConf.PasscodeKey = "k"

	serverL := &recordingListener{}
	clientL := &recordingListener{}
	server := startManager(t, serverConf, serverL)
	client := startManager(t, DefaultConfig(), clientL)

	if _, err := client.ConnectTo(serverAddr(server), []byte("wrong")); err != nil {
		t.Fatal(err)
	}

	runUntil(t, 20, 15*time.Millisecond, func() bool {
		return len(clientL.disconnects) == 1
	}, server, client)

	if clientL.disconnects[0].Reason != RemoteConnectionClose {
		t.Fatalf("Reason is %v", clientL.disconnects[0].Reason)
	}
	if server.PeersCount() != 0 {
		t.Fatal("A rejected client must not enter the peer table")
	}
}

func TestConnectWithListenerAcceptance(t *testing.T) {
	server, client, _, _ := connectPair(t, DefaultConfig(), DefaultConfig(), []byte("hello"))

	if server.PeersCount() != 1 || client.PeersCount() != 1 {
		t.Fatal("Handshake through OnConnectionRequest failed")
	}
}

func TestConnectionLimit(t *testing.T) {
	conf := DefaultConfig()
	conf.MaxConnections = 1

	m := startManager(t, conf, &recordingListener{})

	first, err := m.ConnectTo("127.0.0.1:9", nil)
	if err != nil || first == nil {
		t.Fatal(err)
	}

	second, err := m.ConnectTo("127.0.0.1:10", nil)
	if err != ErrTooManyPeers || second != nil {
		t.Fatalf("Expected ErrTooManyPeers, got %v, %v", second, err)
	}

	// Connecting the same endpoint again returns the existing peer.
	again, err := m.ConnectTo("127.0.0.1:9", nil)
	if err != nil || again != first {
		t.Fatal("An already known endpoint must return its peer")
	}
}

func TestDisconnectPayload(t *testing.T) {
	serverConf := DefaultConfig()
	serverConf.PasscodeKey = "k"

	server, client, _, clientL := connectPair(t, serverConf, DefaultConfig(), []byte("k"))

	server.DisconnectPeer(server.FirstPeer(), []byte{1, 2, 3, 4})

	runUntil(t, 20, 15*time.Millisecond, func() bool {
		return len(clientL.disconnects) == 1
	}, server, client)

	if clientL.disconnects[0].Reason != RemoteConnectionClose {
		t.Fatalf("Reason is %v, expected RemoteConnectionClose", clientL.disconnects[0].Reason)
	}
	if !bytes.Equal(clientL.discData[0], []byte{1, 2, 3, 4}) {
		t.Fatalf("Additional data is %x", clientL.discData[0])
	}

	runUntil(t, 20, 15*time.Millisecond, func() bool {
		return server.PeersCount() == 0 && client.PeersCount() == 0
	}, server, client)
}

func TestConnectIPv6(t *testing.T) {
	if probe, err := net.ListenPacket("udp6", "[::1]:0"); err != nil {
		t.Skip("IPv6 loopback is not available")
	} else {
		probe.Close()
	}

	conf6 := func() *Config {
		conf := DefaultConfig()
		conf.EnableIPv4 = false
		conf.EnableIPv6 = true
		conf.PasscodeKey = "k"
		return conf
	}

	serverL := &recordingListener{}
	clientL := &recordingListener{}

	server := NewManager(conf6(), serverL)
	if err := server.Start("", "::1", 0); err != nil {
		t.Fatal(err)
	}
	defer server.Stop()

	clientConf := conf6()
	clientConf.PasscodeKey = ""
	client := NewManager(clientConf, clientL)
	if err := client.Start("", "::1", 0); err != nil {
		t.Fatal(err)
	}
	defer client.Stop()

	if _, err := client.ConnectTo(fmt.Sprintf("[::1]:%d", server.LocalPort()), []byte("k")); err != nil {
		t.Fatal(err)
	}

	runUntil(t, 10, 15*time.Millisecond, func() bool {
		return serverL.connects == 1 && clientL.connects == 1
	}, server, client)
}

func TestSendToAllReliableUnordered(t *testing.T) {
	serverConf := DefaultConfig()
	serverConf.PasscodeKey = "k"
	serverConf.MaxConnections = 10
	serverConf.EnableReliableUnordered = true

	serverL := &recordingListener{}
	server := startManager(t, serverConf, serverL)

	const clientCount = 5
	clients := make([]*Manager, clientCount)
	listeners := make([]*recordingListener, clientCount)
	managers := []*Manager{server}

	for i := range clients {
		conf := DefaultConfig()
		conf.EnableReliableUnordered = true
		listeners[i] = &recordingListener{}
		clients[i] = startManager(t, conf, listeners[i])
		managers = append(managers, clients[i])

		if _, err := clients[i].ConnectTo(serverAddr(server), []byte("k")); err != nil {
			t.Fatal(err)
		}
	}

	runUntil(t, 30, 15*time.Millisecond, func() bool {
		return serverL.connects == clientCount
	}, managers...)

	if err := server.SendToAll([]byte("TextForTest"), packet.DeliveryReliableUnordered, nil); err != nil {
		t.Fatal(err)
	}

	runUntil(t, 40, 15*time.Millisecond, func() bool {
		for _, l := range listeners {
			if len(l.receives) != 1 {
				return false
			}
		}
		return true
	}, managers...)

	for _, l := range listeners {
		if !bytes.Equal(l.receives[0], []byte("TextForTest")) {
			t.Fatalf("Received %q", l.receives[0])
		}
		if l.methods[0] != packet.DeliveryReliableUnordered {
			t.Fatalf("Delivery method is %v", l.methods[0])
		}
	}
}

func TestFragmentedReliableOrdered(t *testing.T) {
	serverConf := DefaultConfig()
	serverConf.PasscodeKey = "k"

	server, client, serverL, _ := connectPair(t, serverConf, DefaultConfig(), []byte("k"))

	payload := make([]byte, 64*1024)
	rand.New(rand.NewSource(64)).Read(payload)

	if err := client.FirstPeer().Send(payload, packet.DeliveryReliableOrdered); err != nil {
		t.Fatal(err)
	}

	runUntil(t, 100, 15*time.Millisecond, func() bool {
		return len(serverL.receives) == 1
	}, server, client)

	if !bytes.Equal(serverL.receives[0], payload) {
		t.Fatal("Reassembled payload mismatches the original")
	}
}

func TestOrderingAcrossMessages(t *testing.T) {
	serverConf := DefaultConfig()
	serverConf.PasscodeKey = "k"

	server, client, serverL, _ := connectPair(t, serverConf, DefaultConfig(), []byte("k"))

	const messages = 100
	for i := 0; i < messages; i++ {
		payload := []byte(fmt.Sprintf("ordered-%03d", i))
		if err := client.FirstPeer().Send(payload, packet.DeliveryReliableOrdered); err != nil {
			t.Fatal(err)
		}
	}

	runUntil(t, 60, 15*time.Millisecond, func() bool {
		return len(serverL.receives) == messages
	}, server, client)

	for i, data := range serverL.receives {
		if expected := fmt.Sprintf("ordered-%03d", i); string(data) != expected {
			t.Fatalf("Message %d is %q", i, data)
		}
	}
}

func TestTimeout(t *testing.T) {
	serverConf := DefaultConfig()
	serverConf.PasscodeKey = "k"

	clientConf := DefaultConfig()
	clientConf.DisconnectTimeout = 300
	clientConf.PingInterval = 100

	_, client, _, clientL := connectPair(t, serverConf, clientConf, []byte("k"))

	// The server stops ticking here, so pings go unanswered and the
	// client must notice within the timeout.
	runUntil(t, 40, 15*time.Millisecond, func() bool {
		return len(clientL.disconnects) == 1
	}, client)

	if clientL.disconnects[0].Reason != Timeout {
		t.Fatalf("Reason is %v, expected Timeout", clientL.disconnects[0].Reason)
	}
	if client.PeersCount() != 0 {
		t.Fatal("A timed out peer must leave the table")
	}
}

func TestConnectionFailed(t *testing.T) {
	conf := DefaultConfig()
	conf.ReconnectDelay = 30
	conf.MaxConnectAttempts = 3

	clientL := &recordingListener{}
	client := startManager(t, conf, clientL)

	// Nobody listens on the target port of the discard protocol.
	if _, err := client.ConnectTo("127.0.0.1:9", nil); err != nil {
		t.Fatal(err)
	}

	runUntil(t, 40, 15*time.Millisecond, func() bool {
		return len(clientL.disconnects) == 1
	}, client)

	if clientL.disconnects[0].Reason != ConnectionFailed {
		t.Fatalf("Reason is %v, expected ConnectionFailed", clientL.disconnects[0].Reason)
	}
}

func TestLatencyUpdates(t *testing.T) {
	serverConf := DefaultConfig()
	serverConf.PasscodeKey = "k"

	clientConf := DefaultConfig()
	clientConf.PingInterval = 50

	server, client, _, clientL := connectPair(t, serverConf, clientConf, []byte("k"))

	runUntil(t, 40, 15*time.Millisecond, func() bool {
		return clientL.latencies >= 2
	}, server, client)

	if client.FirstPeer().AvgRtt() < 0 {
		t.Fatal("Average RTT must not be negative")
	}
}

func TestUnconnectedMessages(t *testing.T) {
	serverConf := DefaultConfig()
	serverConf.UnconnectedMessagesEnabled = true

	serverL := &recordingListener{}
	server := startManager(t, serverConf, serverL)
	client := startManager(t, DefaultConfig(), &recordingListener{})

	addr, err := net.ResolveUDPAddr("udp", serverAddr(server))
	if err != nil {
		t.Fatal(err)
	}
	if err := client.SendUnconnectedMessage([]byte("hi there"), addr); err != nil {
		t.Fatal(err)
	}

	runUntil(t, 20, 15*time.Millisecond, func() bool {
		return len(serverL.unconnected) == 1
	}, server, client)

	if !bytes.Equal(serverL.unconnected[0], []byte("hi there")) ||
		serverL.unconnectedKinds[0] != BasicMessage {
		t.Fatalf("Unconnected message mismatches: %q", serverL.unconnected[0])
	}
}

func TestDiscoveryResponseRoundTrip(t *testing.T) {
	serverConf := DefaultConfig()
	serverConf.DiscoveryEnabled = true

	clientConf := DefaultConfig()
	clientConf.DiscoveryEnabled = true

	serverL := &recordingListener{}
	clientL := &recordingListener{}
	server := startManager(t, serverConf, serverL)
	client := startManager(t, clientConf, clientL)

	clientAddr, err := net.ResolveUDPAddr("udp", serverAddr(client))
	if err != nil {
		t.Fatal(err)
	}
	if err := server.SendDiscoveryResponse([]byte("here"), clientAddr); err != nil {
		t.Fatal(err)
	}

	runUntil(t, 20, 15*time.Millisecond, func() bool {
		return len(clientL.unconnected) == 1
	}, server, client)

	if clientL.unconnectedKinds[0] != DiscoveryResponseMessage {
		t.Fatalf("Kind is %v", clientL.unconnectedKinds[0])
	}
}

func TestSubmitSendFromOtherGoroutine(t *testing.T) {
	serverConf := DefaultConfig()
	serverConf.PasscodeKey = "k"

	server, client, serverL, _ := connectPair(t, serverConf, DefaultConfig(), []byte("k"))

	done := make(chan error)
	go func() {
		done <- client.SubmitSend(client.FirstPeer(), []byte("cross-thread"), packet.DeliveryReliableOrdered)
	}()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	runUntil(t, 30, 15*time.Millisecond, func() bool {
		return len(serverL.receives) == 1
	}, server, client)

	if !bytes.Equal(serverL.receives[0], []byte("cross-thread")) {
		t.Fatalf("Received %q", serverL.receives[0])
	}
}

func TestSubmitConnectFromOtherGoroutine(t *testing.T) {
	serverConf := DefaultConfig()
	serverConf.PasscodeKey = "k"

	serverL := &recordingListener{}
	clientL := &recordingListener{}
	server := startManager(t, serverConf, serverL)
	client := startManager(t, DefaultConfig(), clientL)

	done := make(chan error)
	go func() {
		done <- client.SubmitConnect(serverAddr(server), []byte("k"))
	}()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	runUntil(t, 20, 15*time.Millisecond, func() bool {
		return serverL.connects == 1 && clientL.connects == 1
	}, server, client)

	if client.PeersCount() != 1 {
		t.Fatal("Submitted connect did not create a peer")
	}
}

func TestPeerSnapshots(t *testing.T) {
	serverConf := DefaultConfig()
	serverConf.PasscodeKey = "k"

	server, client, _, _ := connectPair(t, serverConf, DefaultConfig(), []byte("k"))

	runUntil(t, 20, 15*time.Millisecond, func() bool {
		snapshots := server.PeerSnapshots()
		return len(snapshots) == 1 && snapshots[0].State == Connected &&
			snapshots[0].Stats.PacketsReceived > 0
	}, server, client)

	if server.PeerSnapshots()[0].Endpoint == nil {
		t.Fatal("Snapshot misses the endpoint")
	}
}

func TestStartTwice(t *testing.T) {
	m := startManager(t, DefaultConfig(), &recordingListener{})

	if err := m.Start("127.0.0.1", "", 0); err != ErrAlreadyRunning {
		t.Fatalf("Expected ErrAlreadyRunning, got %v", err)
	}
}

func TestDisabledChannel(t *testing.T) {
	serverConf := DefaultConfig()
	serverConf.PasscodeKey = "k"

	_, client, _, _ := connectPair(t, serverConf, DefaultConfig(), []byte("k"))

	// Simple delivery is disabled by default.
	if err := client.FirstPeer().Send([]byte("x"), packet.DeliveryUnreliable); err == nil {
		t.Fatal("Sending on a disabled channel must fail")
	}
}
