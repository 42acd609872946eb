// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fastnet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/DanisJoyal/FastNetLib/pkg/packet"
)

// Errors surfaced by the Manager's operations.
var (
	ErrAlreadyRunning = errors.New("manager is already running")
	ErrNotRunning     = errors.New("manager is not running")
	ErrTooManyPeers   = errors.New("connection limit reached")
)

// submission is one cross-thread request, drained at tick start: either a
// send to a known peer or, with a non-empty connectAddress, a new connect.
type submission struct {
	peer   *Peer
	data   []byte
	method packet.DeliveryMethod

	connectAddress string
}

// PeerSnapshot is one consistent copy of a peer's public state, published by
// the tick thread once per Run for readers on other goroutines.
type PeerSnapshot struct {
	Endpoint *net.UDPAddr
	State    ConnectionState
	Stats    StatisticsSnapshot
}

// Manager owns the socket, the peer table and the event queue. All protocol
// work happens inside Run, on the thread calling it; the only cross-thread
// entry points are SubmitSend, SubmitConnect, ApplySimulation and the
// read-only PeerSnapshots.
type Manager struct {
	config   *Config
	listener EventListener

	pool   *packet.Pool
	peers  *peerTable
	events *eventQueue
	sim    *simulator

	socket  *socket
	running bool

	submissions chan submission
	rng         *rand.Rand

	// snapshots is the peer-list copy published for other goroutines,
	// refreshed once per tick.
	snapshotMutex sync.RWMutex
	snapshots     []PeerSnapshot
}

// NewManager creates a stopped Manager for the given configuration and
// listener. The configuration is frozen from here on; only the simulation
// knobs stay mutable through ApplySimulation.
func NewManager(conf *Config, listener EventListener) *Manager {
	if conf == nil {
		conf = DefaultConfig()
	}

	pool := packet.NewPool(conf.MaxConnections * packet.DefaultPoolLimitPerPeer)

	return &Manager{
		config:      conf,
		listener:    listener,
		pool:        pool,
		peers:       newPeerTable(conf.MaxConnections),
		events:      newEventQueue(pool),
		sim:         newSimulator(conf.Simulation),
		submissions: make(chan submission, 1024),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetListener replaces the event listener. It must be called before Start;
// replacing the listener on a running Manager races with the event drain.
func (m *Manager) SetListener(listener EventListener) {
	m.listener = listener
}

// Start binds the configured address families on port and marks the Manager
// running. Empty bind addresses default to the wildcard.
func (m *Manager) Start(addr4, addr6 string, port int) error {
	if m.running {
		return ErrAlreadyRunning
	}

	s, err := newSocket(m.config, addr4, addr6, port)
	if err != nil {
		return err
	}

	m.socket = s
	m.running = true

	log.WithFields(log.Fields{
		"port": s.LocalPort(),
	}).Info("Manager started")

	return nil
}

// Stop disconnects every peer, drains the final events and closes the
// socket.
func (m *Manager) Stop() error {
	if !m.running {
		return ErrNotRunning
	}

	var result error
	if err := m.DisconnectAll(nil); err != nil {
		result = multierror.Append(result, err)
	}

	m.events.drain(m.listener)

	for _, peer := range m.peers.peers() {
		peer.teardown()
		m.peers.remove(peer)
	}

	m.socket.Close()
	m.socket = nil
	m.running = false
	m.publishSnapshots()

	log.Info("Manager stopped")
	return result
}

// IsRunning reports if Start succeeded and Stop was not called yet.
func (m *Manager) IsRunning() bool {
	return m.running
}

// LocalPort returns the bound port while running.
func (m *Manager) LocalPort() int {
	if m.socket == nil {
		return 0
	}
	return m.socket.LocalPort()
}

// PeersCount returns the number of peers in the table, including peers
// whose handshake is still in progress.
func (m *Manager) PeersCount() int {
	return m.peers.count()
}

// FirstPeer returns the oldest peer in the table, nil without peers.
func (m *Manager) FirstPeer() *Peer {
	return m.peers.first()
}

// Peers returns a copy of the current peer list. Like FirstPeer and
// PeersCount it must only be called on the tick thread; other goroutines
// read PeerSnapshots instead.
func (m *Manager) Peers() []*Peer {
	return m.peers.peers()
}

// PeerSnapshots returns the peer-list snapshot of the last completed tick.
// Safe from any goroutine.
func (m *Manager) PeerSnapshots() []PeerSnapshot {
	m.snapshotMutex.RLock()
	defer m.snapshotMutex.RUnlock()
	return m.snapshots
}

// publishSnapshots copies the peer list for cross-thread readers.
func (m *Manager) publishSnapshots() {
	snapshots := make([]PeerSnapshot, 0, m.peers.count())
	for _, peer := range m.peers.peers() {
		snapshots = append(snapshots, PeerSnapshot{
			Endpoint: peer.endpoint,
			State:    peer.state,
			Stats:    peer.stats.snapshot(),
		})
	}

	m.snapshotMutex.Lock()
	m.snapshots = snapshots
	m.snapshotMutex.Unlock()
}

// Connect starts a handshake with the endpoint. An already known endpoint
// returns its existing peer; a full table returns a nil peer with
// ErrTooManyPeers.
func (m *Manager) Connect(endpoint *net.UDPAddr, connectData []byte) (*Peer, error) {
	if !m.running {
		return nil, ErrNotRunning
	}

	if peer := m.peers.get(endpoint); peer != nil {
		return peer, nil
	}
	if m.peers.full() {
		return nil, ErrTooManyPeers
	}

	peer := newOutgoingPeer(m, endpoint, connectData, m.now())
	m.peers.add(peer)
	return peer, nil
}

// ConnectTo resolves address as host:port and connects to it.
func (m *Manager) ConnectTo(address string, connectData []byte) (*Peer, error) {
	endpoint, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolving %s failed: %w", address, err)
	}
	return m.Connect(endpoint, connectData)
}

// DisconnectPeer starts the shutdown handshake, payload travels to the
// remote listener's disconnect event.
func (m *Manager) DisconnectPeer(peer *Peer, payload []byte) {
	peer.Disconnect(payload)
}

// DisconnectAll disconnects every peer in the table.
func (m *Manager) DisconnectAll(payload []byte) error {
	for _, peer := range m.peers.peers() {
		peer.Disconnect(payload)
	}
	return nil
}

// SendToAll queues data to every connected peer, except an optional one.
// Per-peer failures are aggregated.
func (m *Manager) SendToAll(data []byte, method packet.DeliveryMethod, exclude *Peer) error {
	var result error
	for _, peer := range m.peers.peers() {
		if peer == exclude || peer.state != Connected {
			continue
		}
		if err := peer.Send(data, method); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// SubmitSend queues a send from another goroutine. The submission is
// applied at the start of the next tick.
func (m *Manager) SubmitSend(peer *Peer, data []byte, method packet.DeliveryMethod) error {
	select {
	case m.submissions <- submission{peer: peer, data: append([]byte{}, data...), method: method}:
		return nil
	default:
		return fmt.Errorf("submission queue is full")
	}
}

// SubmitConnect queues a connect to address (host:port) from another
// goroutine, applied at the start of the next tick. An address the table
// already knows is a no-op there.
func (m *Manager) SubmitConnect(address string, connectData []byte) error {
	select {
	case m.submissions <- submission{connectAddress: address, data: append([]byte{}, connectData...)}:
		return nil
	default:
		return fmt.Errorf("submission queue is full")
	}
}

// ApplySimulation swaps the runtime-mutable simulation knobs.
func (m *Manager) ApplySimulation(conf SimulationConfig) {
	m.sim.apply(conf)
}

// Run performs one tick: it drains cross-thread submissions, receives
// datagrams until the timeout budget is spent, updates every peer, removes
// disconnected ones and dispatches the pending events.
func (m *Manager) Run(timeout time.Duration) error {
	if !m.running {
		return ErrNotRunning
	}

	deadline := time.Now().Add(timeout)

	m.drainSubmissions()

	for {
		dgram, ok := m.socket.Receive(deadline)
		if !ok {
			break
		}
		m.handleDatagram(dgram)
	}

	now := m.now()

	for _, d := range m.sim.due(now) {
		m.transmit(d.data, d.addr, nil)
	}

	for _, peer := range m.peers.peers() {
		peer.update(now)
		if peer.state == Disconnected {
			peer.teardown()
			m.peers.remove(peer)
		}
	}

	m.events.drain(m.listener)
	m.publishSnapshots()
	return nil
}

// RunLoop calls Run with the configured tick budget until the context is
// cancelled, then stops the Manager.
func (m *Manager) RunLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return m.Stop()
		default:
		}

		if err := m.Run(m.config.updateTime()); err != nil {
			return err
		}
	}
}

func (m *Manager) drainSubmissions() {
	for {
		select {
		case sub := <-m.submissions:
			if sub.connectAddress != "" {
				if _, err := m.ConnectTo(sub.connectAddress, sub.data); err != nil {
					log.WithError(err).WithFields(log.Fields{
						"address": sub.connectAddress,
					}).Debug("Submitted connect failed")
				}
				continue
			}

			if sub.peer.state == Disconnected {
				continue
			}
			if err := sub.peer.Send(sub.data, sub.method); err != nil {
				log.WithError(err).Debug("Submitted send failed")
			}
		default:
			return
		}
	}
}

// handleDatagram parses and routes one received datagram. Panics out of the
// pipeline are caught here so a malformed packet cannot take down the tick.
func (m *Manager) handleDatagram(dgram datagram) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"endpoint": dgram.addr,
				"panic":    r,
			}).Error("Recovered from a packet processing panic")
		}
	}()

	if m.sim.dropIncoming() {
		return
	}

	p := m.pool.GetAndRead(dgram.data)
	if p == nil {
		return
	}

	now := m.now()
	peer := m.peers.get(dgram.addr)

	switch p.Property {
	case packet.ConnectRequest:
		m.handleConnectRequest(dgram.addr, p, now)

	case packet.Disconnect:
		if peer != nil {
			peer.processPacket(p, now)
		} else {
			// Stateless reply so a forgotten remote can settle down.
			m.sendShutdownOk(dgram.addr)
			m.pool.Recycle(p)
		}

	case packet.DiscoveryRequest:
		if m.config.DiscoveryEnabled {
			m.enqueueUnconnected(dgram.addr, p, DiscoveryRequestMessage)
		} else {
			m.pool.Recycle(p)
		}

	case packet.DiscoveryResponse:
		if m.config.DiscoveryEnabled {
			m.enqueueUnconnected(dgram.addr, p, DiscoveryResponseMessage)
		} else {
			m.pool.Recycle(p)
		}

	case packet.UnconnectedMessage:
		if m.config.UnconnectedMessagesEnabled {
			m.enqueueUnconnected(dgram.addr, p, BasicMessage)
		} else {
			m.pool.Recycle(p)
		}

	default:
		if peer != nil {
			peer.processPacket(p, now)
		} else {
			log.WithFields(log.Fields{
				"endpoint": dgram.addr,
				"property": p.Property,
			}).Debug("Dropping packet from an unknown endpoint")
			m.pool.Recycle(p)
		}
	}
}

// handleConnectRequest validates the handshake and either auto-decides via
// the configured passcode or hands the decision to the application.
func (m *Manager) handleConnectRequest(addr *net.UDPAddr, p *packet.Packet, now time.Time) {
	defer m.pool.Recycle(p)

	body := p.Data()
	if len(body) < 12 {
		return
	}
	if binary.LittleEndian.Uint32(body) != ProtocolID {
		log.WithFields(log.Fields{
			"endpoint": addr,
			"protocol": binary.LittleEndian.Uint32(body),
		}).Debug("Rejecting connect request with a foreign protocol id")
		return
	}

	connectionID := binary.LittleEndian.Uint64(body[4:])
	key := append([]byte{}, body[12:]...)

	if peer := m.peers.get(addr); peer != nil {
		dup := m.pool.GetAndRead(p.RawData())
		if dup != nil {
			peer.processPacket(dup, now)
		}
		return
	}

	if m.peers.full() {
		log.WithFields(log.Fields{
			"endpoint": addr,
		}).Debug("Dropping connect request beyond the connection limit")
		return
	}

	request := &ConnectionRequest{
		manager:      m,
		endpoint:     addr,
		connectionID: connectionID,
		data:         key,
	}

	if m.config.PasscodeKey != "" {
		if string(key) == m.config.PasscodeKey {
			request.Accept()
		} else {
			request.Reject(nil)
		}
		return
	}

	m.enqueueConnectionRequest(request)
}

// now is the tick clock.
func (m *Manager) now() time.Time {
	return time.Now()
}

func (m *Manager) nextConnectionID() uint64 {
	return m.rng.Uint64()
}

// sendRaw is the outbound funnel: simulation latency first, then the
// socket. The optional peer is disconnected on a hard send failure.
func (m *Manager) sendRaw(raw []byte, addr *net.UDPAddr, peer *Peer) {
	if m.socket == nil {
		return
	}
	if m.sim.delayOutgoing(raw, addr, time.Now()) {
		return
	}
	m.transmit(raw, addr, peer)
}

func (m *Manager) transmit(raw []byte, addr *net.UDPAddr, peer *Peer) {
	err := m.socket.SendTo(raw, addr)
	if err == nil {
		return
	}

	if isSilentSendError(err) {
		log.WithFields(log.Fields{
			"endpoint": addr,
			"error":    err,
		}).Debug("Dropped a datagram the link refused")
		return
	}

	m.enqueueError(addr, err)
	if peer != nil {
		peer.disconnectInternal(SocketSendError, nil)
	}
}

func (m *Manager) sendShutdownOk(addr *net.UDPAddr) {
	p := m.pool.Get(packet.ShutdownOk, 0, 0)
	p.EncodeHeader()
	m.sendRaw(p.RawData(), addr, nil)
	m.pool.Recycle(p)
}

// SendUnconnectedMessage sends raw user data outside any connection.
func (m *Manager) SendUnconnectedMessage(data []byte, addr *net.UDPAddr) error {
	if !m.running {
		return ErrNotRunning
	}

	p := m.pool.GetWithData(packet.UnconnectedMessage, 0, data)
	p.EncodeHeader()
	m.sendRaw(p.RawData(), addr, nil)
	m.pool.Recycle(p)
	return nil
}

// SendDiscoveryRequest broadcasts user data to every listener on port.
func (m *Manager) SendDiscoveryRequest(data []byte, port int) error {
	if !m.running {
		return ErrNotRunning
	}

	p := m.pool.GetWithData(packet.DiscoveryRequest, 0, data)
	p.EncodeHeader()
	err := m.socket.Broadcast(p.RawData(), port)
	m.pool.Recycle(p)
	return err
}

// SendDiscoveryResponse answers a discovery request with user data.
func (m *Manager) SendDiscoveryResponse(data []byte, addr *net.UDPAddr) error {
	if !m.running {
		return ErrNotRunning
	}

	p := m.pool.GetWithData(packet.DiscoveryResponse, 0, data)
	p.EncodeHeader()
	m.sendRaw(p.RawData(), addr, nil)
	m.pool.Recycle(p)
	return nil
}

// Event enqueue helpers. Packets attached to events are owned by the queue
// until the drain recycles them.

func (m *Manager) enqueueConnect(peer *Peer) {
	ev := m.events.get()
	ev.kind = eventConnect
	ev.peer = peer
	m.events.push(ev)
}

func (m *Manager) enqueueDisconnect(peer *Peer, reason DisconnectReason, additionalData []byte) {
	ev := m.events.get()
	ev.kind = eventDisconnect
	ev.peer = peer
	ev.reason = reason
	ev.additionalData = additionalData
	m.events.push(ev)
}

func (m *Manager) enqueueReceive(peer *Peer, p *packet.Packet, method packet.DeliveryMethod) {
	ev := m.events.get()
	ev.kind = eventReceive
	ev.peer = peer
	ev.p = p
	ev.method = method
	ev.channel = p.Channel
	m.events.push(ev)
}

func (m *Manager) enqueueUnconnected(endpoint *net.UDPAddr, p *packet.Packet, kind UnconnectedMessageType) {
	ev := m.events.get()
	ev.kind = eventReceiveUnconnected
	ev.endpoint = endpoint
	ev.p = p
	ev.msgKind = kind
	m.events.push(ev)
}

func (m *Manager) enqueueError(endpoint *net.UDPAddr, err error) {
	ev := m.events.get()
	ev.kind = eventError
	ev.endpoint = endpoint
	ev.err = err
	m.events.push(ev)
}

func (m *Manager) enqueueLatencyUpdate(peer *Peer, latency time.Duration) {
	ev := m.events.get()
	ev.kind = eventLatencyUpdated
	ev.peer = peer
	ev.latency = latency
	m.events.push(ev)
}

func (m *Manager) enqueueConnectionRequest(request *ConnectionRequest) {
	ev := m.events.get()
	ev.kind = eventConnectionRequest
	ev.request = request
	m.events.push(ev)
}

// ConnectionRequest is a pending incoming handshake awaiting the
// application's decision. Accept and Reject must be called on the tick
// thread, typically inside OnConnectionRequest.
type ConnectionRequest struct {
	manager      *Manager
	endpoint     *net.UDPAddr
	connectionID uint64
	data         []byte

	handled bool
}

// Endpoint returns the requester's address.
func (r *ConnectionRequest) Endpoint() *net.UDPAddr {
	return r.endpoint
}

// Data returns the request's key or payload bytes.
func (r *ConnectionRequest) Data() []byte {
	return r.data
}

// Accept creates the peer and finishes the handshake. It returns nil if the
// request was already handled or the table filled up in the meantime.
func (r *ConnectionRequest) Accept() *Peer {
	if r.handled {
		return nil
	}
	r.handled = true

	m := r.manager
	if m.peers.full() {
		return nil
	}
	if existing := m.peers.get(r.endpoint); existing != nil {
		return existing
	}

	peer := newIncomingPeer(m, r.endpoint, r.connectionID, m.now())
	m.peers.add(peer)
	m.enqueueConnect(peer)
	return peer
}

// Reject refuses the handshake, optionally handing payload to the remote's
// disconnect event.
func (r *ConnectionRequest) Reject(payload []byte) {
	if r.handled {
		return
	}
	r.handled = true

	m := r.manager
	body := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint64(body, r.connectionID)
	copy(body[8:], payload)

	p := m.pool.GetWithData(packet.Disconnect, 0, body)
	p.EncodeHeader()
	m.sendRaw(p.RawData(), r.endpoint, nil)
	m.pool.Recycle(p)
}
