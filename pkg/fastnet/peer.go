// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fastnet

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/howeyc/crc16"
	log "github.com/sirupsen/logrus"

	"github.com/DanisJoyal/FastNetLib/pkg/channel"
	"github.com/DanisJoyal/FastNetLib/pkg/fragment"
	"github.com/DanisJoyal/FastNetLib/pkg/packet"
)

// ProtocolID is the compile-time protocol constant carried in every
// ConnectRequest. Peers with a mismatching id are rejected without response.
const ProtocolID uint32 = 0x464E4C01

// ConnectionState is a peer's lifecycle state.
type ConnectionState uint8

const (
	// InProgress peers are retransmitting ConnectRequests.
	InProgress ConnectionState = iota

	// Connected peers exchange data.
	Connected

	// ShutdownRequested peers are retransmitting their Disconnect.
	ShutdownRequested

	// Disconnected peers are removed from the table at the end of a tick.
	Disconnected
)

func (s ConnectionState) String() string {
	names := []string{"InProgress", "Connected", "ShutdownRequested", "Disconnected"}
	if int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// mtuCandidates are the probe sizes: common link MTUs minus the 68 byte
// UDP/IP overhead.
var mtuCandidates = []int{
	576 - 68, 1492 - 68, 1500 - 68, 4352 - 68, 4464 - 68, 7981 - 68,
}

const (
	// mtuProbeRetries bounds unanswered probes per candidate before the
	// MTU fixes to the highest confirmed one.
	mtuProbeRetries = 4

	// mtuCheckDelay is the pause between two probes.
	mtuCheckDelay = time.Second

	// minResendDelay floors the RTT-derived retransmission delay.
	minResendDelay = 50 * time.Millisecond

	// rttAverageWindow is the smoothing window of the RTT moving average.
	rttAverageWindow = 6
)

// Peer is one remote endpoint with its delivery pipeline: the enabled
// channel state machines, fragment reassembly, handshake and keepalive
// timers, MTU probing and the merge buffer.
//
// All methods must be called on the manager's tick thread; for cross-thread
// sending see Manager.SubmitSend.
type Peer struct {
	manager  *Manager
	endpoint *net.UDPAddr

	connectionID uint64
	state        ConnectionState

	channels    [4]channel.Channel
	reassembler *fragment.Reassembler

	fragmentIDCounter uint16

	// Handshake bookkeeping.
	connectData        []byte
	connectAttempts    int
	lastConnectRequest time.Time

	// Shutdown bookkeeping.
	shutdownPacket   *packet.Packet
	shutdownStart    time.Time
	lastShutdownSend time.Time

	// Keepalive and RTT.
	lastPingSend          time.Time
	lastPacketReceiveTime time.Time
	rtt                   time.Duration
	avgRtt                time.Duration
	rttCount              int

	// MTU discovery.
	mtuIdx        int
	mtuNegotiated int
	mtuTargetIdx  int
	mtuAttempts   int
	mtuFinished   bool
	lastMtuProbe  time.Time

	// Merge buffer for small outbound packets.
	mergeBuffer *packet.Packet
	mergePos    int
	mergeCount  int

	stats Statistics
}

// newPeer wires the channel instances enabled in the configuration.
func newPeer(m *Manager, endpoint *net.UDPAddr, connectionID uint64, now time.Time) *Peer {
	peer := &Peer{
		manager:               m,
		endpoint:              endpoint,
		connectionID:          connectionID,
		reassembler:           fragment.NewReassembler(m.pool, m.config.disconnectTimeout()),
		lastPacketReceiveTime: now,
	}

	conf := m.config
	if conf.EnableSimple {
		peer.channels[packet.DeliveryUnreliable] = channel.NewSimpleChannel(peer)
	}
	if conf.EnableReliableUnordered {
		peer.channels[packet.DeliveryReliableUnordered] = channel.NewReliableChannel(
			peer, uint8(packet.DeliveryReliableUnordered), false, channel.DefaultWindowSize)
	}
	if conf.EnableReliableOrdered {
		peer.channels[packet.DeliveryReliableOrdered] = channel.NewReliableChannel(
			peer, uint8(packet.DeliveryReliableOrdered), true, channel.DefaultWindowSize)
	}
	if conf.EnableSequenced {
		peer.channels[packet.DeliverySequenced] = channel.NewSequencedChannel(peer)
	}

	if conf.MtuStartIdx < 0 {
		peer.mtuIdx = 1
		peer.mtuFinished = true
	} else {
		peer.mtuIdx = conf.MtuStartIdx
		if peer.mtuIdx >= len(mtuCandidates) {
			peer.mtuIdx = len(mtuCandidates) - 1
		}
		peer.mtuTargetIdx = peer.mtuIdx + 1
		peer.mtuFinished = peer.mtuTargetIdx >= len(mtuCandidates)
	}
	peer.mtuNegotiated = mtuCandidates[peer.mtuIdx]
	peer.stats.setMtu(peer.mtuNegotiated)

	return peer
}

// newOutgoingPeer starts the client side of the handshake.
func newOutgoingPeer(m *Manager, endpoint *net.UDPAddr, connectData []byte, now time.Time) *Peer {
	peer := newPeer(m, endpoint, m.nextConnectionID(), now)
	peer.state = InProgress
	peer.connectData = connectData
	peer.sendConnectRequest(now)

	log.WithFields(log.Fields{
		"endpoint":     endpoint,
		"connectionId": peer.connectionID,
	}).Info("Connecting to peer")

	return peer
}

// newIncomingPeer finishes the server side of the handshake by echoing the
// client's connection id.
func newIncomingPeer(m *Manager, endpoint *net.UDPAddr, connectionID uint64, now time.Time) *Peer {
	peer := newPeer(m, endpoint, connectionID, now)
	peer.state = Connected
	peer.sendConnectAccept()

	log.WithFields(log.Fields{
		"endpoint":     endpoint,
		"connectionId": connectionID,
	}).Info("Accepted peer")

	return peer
}

// Endpoint returns the remote address.
func (peer *Peer) Endpoint() *net.UDPAddr {
	return peer.endpoint
}

// ConnectionState returns the current lifecycle state.
func (peer *Peer) ConnectionState() ConnectionState {
	return peer.state
}

// ConnectionID returns the 64 bit id negotiated during the handshake.
func (peer *Peer) ConnectionID() uint64 {
	return peer.connectionID
}

// Mtu returns the currently negotiated MTU in bytes.
func (peer *Peer) Mtu() int {
	return peer.mtuNegotiated
}

// Rtt returns the last measured round-trip time.
func (peer *Peer) Rtt() time.Duration {
	return peer.rtt
}

// AvgRtt returns the smoothed round-trip time.
func (peer *Peer) AvgRtt() time.Duration {
	return peer.avgRtt
}

// Statistics returns a consistent copy of the peer's counters. Unlike the
// other accessors, this one is safe from any goroutine.
func (peer *Peer) Statistics() StatisticsSnapshot {
	return peer.stats.snapshot()
}

func (peer *Peer) String() string {
	return fmt.Sprintf("Peer(%v, %v)", peer.endpoint, peer.state)
}

// Host interface for the channels.

// SendRaw writes a packet's bytes into the wire path, see sendRaw.
func (peer *Peer) SendRaw(p *packet.Packet) {
	peer.sendRaw(p.RawData())
}

// Pool returns the manager's packet pool.
func (peer *Peer) Pool() *packet.Pool {
	return peer.manager.pool
}

// ResendDelay derives the retransmission delay from the averaged RTT.
func (peer *Peer) ResendDelay() time.Duration {
	delay := 2 * peer.avgRtt
	if delay < minResendDelay {
		delay = minResendDelay
	}
	return delay
}

// NoteRetransmit counts a channel retransmission.
func (peer *Peer) NoteRetransmit() {
	peer.stats.addRetransmission()
}

// Send queues a payload for delivery. Payloads exceeding the MTU are
// fragmented; the whole message surfaces as one receive on the remote side.
func (peer *Peer) Send(data []byte, method packet.DeliveryMethod) error {
	if peer.state == Disconnected || peer.state == ShutdownRequested {
		return fmt.Errorf("peer %v is shut down", peer.endpoint)
	}

	if int(method) >= len(peer.channels) || peer.channels[method] == nil {
		return fmt.Errorf("delivery method %v is not enabled", method)
	}
	ch := peer.channels[method]

	property := method.Property()
	payloadMtu := peer.mtuNegotiated - packet.HeaderSize(property) - packet.FragmentHeaderSize

	if len(data) <= payloadMtu {
		ch.AddToQueue(peer.manager.pool.GetWithData(property, uint8(method), data))
		return nil
	}

	buffer := fragment.NewBuffer(peer.manager.pool, property, uint8(method), peer.mtuNegotiated, true, 0)
	if _, err := buffer.Write(data); err != nil {
		buffer.Clear()
		return err
	}

	peer.fragmentIDCounter = (peer.fragmentIDCounter + 1) % packet.MaxSequence
	for _, p := range buffer.Finalize(peer.fragmentIDCounter) {
		ch.AddToQueue(p)
	}
	return nil
}

// Disconnect starts the shutdown handshake, carrying payload to the remote's
// disconnect event. It is idempotent on an already disconnected peer.
func (peer *Peer) Disconnect(payload []byte) {
	if peer.state == Disconnected || peer.state == ShutdownRequested {
		return
	}

	now := peer.manager.now()

	body := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint64(body, peer.connectionID)
	copy(body[8:], payload)

	peer.shutdownPacket = peer.manager.pool.GetWithData(packet.Disconnect, 0, body)
	peer.shutdownPacket.DontRecycleNow = true
	peer.shutdownPacket.EncodeHeader()
	peer.shutdownStart = now
	peer.lastShutdownSend = now

	peer.sendRawDirect(peer.shutdownPacket.RawData())

	wasConnected := peer.state == Connected
	peer.state = ShutdownRequested

	if wasConnected {
		peer.manager.enqueueDisconnect(peer, DisconnectPeerCalled, nil)
	} else {
		// An unanswered handshake needs no shutdown exchange.
		peer.finishShutdown()
		peer.manager.enqueueDisconnect(peer, DisconnectPeerCalled, nil)
	}
}

// finishShutdown releases shutdown state and marks the peer Disconnected.
func (peer *Peer) finishShutdown() {
	if peer.shutdownPacket != nil {
		peer.shutdownPacket.DontRecycleNow = false
		peer.manager.pool.Recycle(peer.shutdownPacket)
		peer.shutdownPacket = nil
	}
	peer.state = Disconnected
}

// disconnectInternal transitions straight to Disconnected and surfaces the
// event, used for timeout, socket failures and remote closes.
func (peer *Peer) disconnectInternal(reason DisconnectReason, additionalData []byte) {
	if peer.state == Disconnected {
		return
	}

	peer.finishShutdown()
	peer.manager.enqueueDisconnect(peer, reason, additionalData)

	log.WithFields(log.Fields{
		"peer":   peer.endpoint,
		"reason": reason,
	}).Info("Peer disconnected")
}

// update advances all timers for one tick.
func (peer *Peer) update(now time.Time) {
	switch peer.state {
	case InProgress:
		if now.Sub(peer.lastConnectRequest) >= peer.manager.config.reconnectDelay() {
			if peer.connectAttempts >= peer.manager.config.MaxConnectAttempts {
				peer.disconnectInternal(ConnectionFailed, nil)
				return
			}
			peer.sendConnectRequest(now)
		}

	case Connected:
		if now.Sub(peer.lastPacketReceiveTime) > peer.manager.config.disconnectTimeout() {
			peer.disconnectInternal(Timeout, nil)
			return
		}

		if now.Sub(peer.lastPingSend) >= peer.manager.config.pingInterval() {
			peer.sendPing(now)
		}

		peer.updateMtu(now)

		for _, ch := range peer.channels {
			if ch != nil {
				ch.SendNextPackets(now)
			}
		}

		peer.reassembler.Sweep(now)

	case ShutdownRequested:
		if now.Sub(peer.shutdownStart) > peer.manager.config.disconnectTimeout() {
			peer.finishShutdown()
			return
		}
		if now.Sub(peer.lastShutdownSend) >= peer.manager.config.reconnectDelay() {
			peer.lastShutdownSend = now
			peer.sendRawDirect(peer.shutdownPacket.RawData())
		}
	}

	peer.flushMerge()
}

// teardown recycles everything the peer still holds.
func (peer *Peer) teardown() {
	for _, ch := range peer.channels {
		if ch != nil {
			ch.Teardown()
		}
	}
	peer.reassembler.Clear()

	if peer.mergeBuffer != nil {
		peer.manager.pool.Recycle(peer.mergeBuffer)
		peer.mergeBuffer = nil
	}
	if peer.shutdownPacket != nil {
		peer.shutdownPacket.DontRecycleNow = false
		peer.manager.pool.Recycle(peer.shutdownPacket)
		peer.shutdownPacket = nil
	}
}

// processPacket consumes one decoded incoming packet. Ownership of p moves
// to the peer.
func (peer *Peer) processPacket(p *packet.Packet, now time.Time) {
	peer.lastPacketReceiveTime = now
	peer.stats.addReceived(p.Size())

	switch p.Property {
	case packet.Ping:
		peer.processPing(p)

	case packet.Pong:
		peer.processPong(p, now)

	case packet.ConnectRequest:
		// The remote missed our accept; repeat it.
		peer.processRepeatedConnectRequest(p)

	case packet.ConnectAccept:
		peer.processConnectAccept(p)

	case packet.Disconnect:
		peer.processDisconnect(p)

	case packet.ShutdownOk:
		if peer.state == ShutdownRequested {
			peer.finishShutdown()
		}
		peer.manager.pool.Recycle(p)

	case packet.MtuCheck:
		peer.processMtuCheck(p)

	case packet.MtuOk:
		peer.processMtuOk(p)

	case packet.Merged:
		peer.processMerged(p, now)

	case packet.Ack:
		peer.processAck(p)

	case packet.Unreliable, packet.ReliableUnordered, packet.ReliableOrdered, packet.Sequenced:
		peer.processData(p, now)

	default:
		// ReliableSequenced and the NAT properties are reserved.
		log.WithFields(log.Fields{
			"peer":     peer.endpoint,
			"property": p.Property,
		}).Debug("Dropping packet with unrouted property")
		peer.manager.pool.Recycle(p)
	}
}

func (peer *Peer) processAck(p *packet.Packet) {
	method := packet.DeliveryMethod(p.Channel)
	if int(method) >= len(peer.channels) || peer.channels[method] == nil {
		peer.manager.pool.Recycle(p)
		return
	}
	peer.channels[method].ProcessAck(p)
}

func (peer *Peer) processData(p *packet.Packet, now time.Time) {
	if peer.state != Connected {
		peer.manager.pool.Recycle(p)
		return
	}

	method := packet.DeliveryMethod(p.Channel)
	if p.Property == packet.Unreliable {
		method = packet.DeliveryUnreliable
	}
	if int(method) >= len(peer.channels) || peer.channels[method] == nil ||
		method.Property() != p.Property {
		log.WithFields(log.Fields{
			"peer":     peer.endpoint,
			"property": p.Property,
			"channel":  p.Channel,
		}).Debug("Dropping packet for a disabled or mismatched channel")
		peer.manager.pool.Recycle(p)
		return
	}

	ch := peer.channels[method]
	if !ch.ProcessPacket(p) {
		return
	}

	for delivered := ch.PopDelivered(); delivered != nil; delivered = ch.PopDelivered() {
		peer.surface(delivered, method, now)
	}
}

// surface hands a delivered payload to the event queue, reassembling
// fragmented messages first.
func (peer *Peer) surface(p *packet.Packet, method packet.DeliveryMethod, now time.Time) {
	if p.IsFragmented {
		whole := peer.reassembler.Add(p, now)
		if whole == nil {
			return
		}
		p = whole
	}

	peer.manager.enqueueReceive(peer, p, method)
}

func (peer *Peer) processPing(p *packet.Packet) {
	defer peer.manager.pool.Recycle(p)

	if len(p.Data()) < 8 {
		return
	}

	pong := peer.manager.pool.GetWithData(packet.Pong, 0, p.Data()[:8])
	pong.EncodeHeader()
	peer.sendRaw(pong.RawData())
	peer.manager.pool.Recycle(pong)
}

// processPong turns the echoed stamp into an RTT sample: an exponential
// moving average over the last rttAverageWindow measurements.
func (peer *Peer) processPong(p *packet.Packet, now time.Time) {
	defer peer.manager.pool.Recycle(p)

	if len(p.Data()) < 8 {
		return
	}

	stamp := int64(binary.LittleEndian.Uint64(p.Data()))
	rtt := now.Sub(time.Unix(0, stamp))
	if rtt < 0 {
		return
	}

	peer.rtt = rtt
	peer.rttCount++
	if peer.avgRtt == 0 {
		peer.avgRtt = rtt
	} else {
		peer.avgRtt += (rtt - peer.avgRtt) / rttAverageWindow
	}
	peer.stats.setRtt(peer.rtt, peer.avgRtt)

	peer.manager.enqueueLatencyUpdate(peer, peer.avgRtt)
}

func (peer *Peer) processRepeatedConnectRequest(p *packet.Packet) {
	defer peer.manager.pool.Recycle(p)

	body := p.Data()
	if len(body) < 12 || binary.LittleEndian.Uint32(body) != ProtocolID {
		return
	}

	if binary.LittleEndian.Uint64(body[4:]) == peer.connectionID && peer.state == Connected {
		peer.sendConnectAccept()
	}
}

func (peer *Peer) processConnectAccept(p *packet.Packet) {
	defer peer.manager.pool.Recycle(p)

	if peer.state != InProgress || len(p.Data()) < 8 {
		return
	}
	if binary.LittleEndian.Uint64(p.Data()) != peer.connectionID {
		log.WithFields(log.Fields{
			"peer": peer.endpoint,
		}).Debug("ConnectAccept with a foreign connection id")
		return
	}

	peer.state = Connected
	peer.manager.enqueueConnect(peer)

	log.WithFields(log.Fields{
		"peer":         peer.endpoint,
		"connectionId": peer.connectionID,
	}).Info("Connection established")
}

// processDisconnect handles a remote close: the connection id must match to
// guard against stale duplicates.
func (peer *Peer) processDisconnect(p *packet.Packet) {
	defer peer.manager.pool.Recycle(p)

	body := p.Data()
	if len(body) < 8 || binary.LittleEndian.Uint64(body) != peer.connectionID {
		return
	}

	peer.sendShutdownOk()

	var additionalData []byte
	if len(body) > 8 {
		additionalData = append([]byte{}, body[8:]...)
	}

	if peer.state == Connected || peer.state == InProgress {
		peer.disconnectInternal(RemoteConnectionClose, additionalData)
	} else {
		peer.finishShutdown()
	}
}

func (peer *Peer) processMtuCheck(p *packet.Packet) {
	defer peer.manager.pool.Recycle(p)

	body := p.Data()
	if len(body) < 3 {
		return
	}
	if crc16.ChecksumCCITT(body[3:]) != binary.LittleEndian.Uint16(body[1:]) {
		log.WithFields(log.Fields{
			"peer": peer.endpoint,
		}).Debug("MTU probe failed its checksum")
		return
	}

	ok := peer.manager.pool.GetWithData(packet.MtuOk, 0, body[:1])
	ok.EncodeHeader()
	peer.sendRawDirect(ok.RawData())
	peer.manager.pool.Recycle(ok)
}

func (peer *Peer) processMtuOk(p *packet.Packet) {
	defer peer.manager.pool.Recycle(p)

	body := p.Data()
	if peer.mtuFinished || len(body) < 1 || int(body[0]) != peer.mtuTargetIdx {
		return
	}

	peer.mtuIdx = peer.mtuTargetIdx
	peer.mtuNegotiated = mtuCandidates[peer.mtuIdx]
	peer.stats.setMtu(peer.mtuNegotiated)
	peer.mtuTargetIdx++
	peer.mtuAttempts = 0
	peer.mtuFinished = peer.mtuTargetIdx >= len(mtuCandidates)

	log.WithFields(log.Fields{
		"peer": peer.endpoint,
		"mtu":  peer.mtuNegotiated,
	}).Debug("MTU candidate confirmed")
}

// updateMtu sends the next probe: the candidate above the last confirmed
// one, padded to its full size and protected by a checksum.
func (peer *Peer) updateMtu(now time.Time) {
	if peer.mtuFinished || now.Sub(peer.lastMtuProbe) < mtuCheckDelay {
		return
	}

	if peer.mtuAttempts >= mtuProbeRetries {
		peer.mtuFinished = true
		log.WithFields(log.Fields{
			"peer": peer.endpoint,
			"mtu":  peer.mtuNegotiated,
		}).Debug("MTU discovery finished")
		return
	}

	peer.lastMtuProbe = now
	peer.mtuAttempts++

	candidate := mtuCandidates[peer.mtuTargetIdx]
	probe := peer.manager.pool.Get(packet.MtuCheck, 0, candidate-packet.BaseHeaderSize)

	body := probe.Data()
	for i := range body {
		body[i] = 0
	}
	body[0] = byte(peer.mtuTargetIdx)
	binary.LittleEndian.PutUint16(body[1:], crc16.ChecksumCCITT(body[3:]))

	probe.EncodeHeader()
	peer.sendRawDirect(probe.RawData())
	peer.manager.pool.Recycle(probe)
}

// processMerged unpacks a merge container and feeds every sub-packet back
// through processPacket.
func (peer *Peer) processMerged(p *packet.Packet, now time.Time) {
	defer peer.manager.pool.Recycle(p)

	body := p.Data()
	for len(body) >= 2 {
		size := int(binary.LittleEndian.Uint16(body))
		body = body[2:]
		if size == 0 || size > len(body) {
			log.WithFields(log.Fields{
				"peer": peer.endpoint,
			}).Debug("Truncated merge container")
			return
		}

		if inner := peer.manager.pool.GetAndRead(body[:size]); inner != nil {
			peer.processPacket(inner, now)
		}
		body = body[size:]
	}
}

func (peer *Peer) sendConnectRequest(now time.Time) {
	peer.connectAttempts++
	peer.lastConnectRequest = now

	body := make([]byte, 12+len(peer.connectData))
	binary.LittleEndian.PutUint32(body, ProtocolID)
	binary.LittleEndian.PutUint64(body[4:], peer.connectionID)
	copy(body[12:], peer.connectData)

	p := peer.manager.pool.GetWithData(packet.ConnectRequest, 0, body)
	p.EncodeHeader()
	peer.sendRawDirect(p.RawData())
	peer.manager.pool.Recycle(p)
}

func (peer *Peer) sendConnectAccept() {
	var body [8]byte
	binary.LittleEndian.PutUint64(body[:], peer.connectionID)

	p := peer.manager.pool.GetWithData(packet.ConnectAccept, 0, body[:])
	p.EncodeHeader()
	peer.sendRawDirect(p.RawData())
	peer.manager.pool.Recycle(p)
}

func (peer *Peer) sendShutdownOk() {
	p := peer.manager.pool.Get(packet.ShutdownOk, 0, 0)
	p.EncodeHeader()
	peer.sendRawDirect(p.RawData())
	peer.manager.pool.Recycle(p)
}

func (peer *Peer) sendPing(now time.Time) {
	peer.lastPingSend = now

	var body [8]byte
	binary.LittleEndian.PutUint64(body[:], uint64(now.UnixNano()))

	p := peer.manager.pool.GetWithData(packet.Ping, 0, body[:])
	p.EncodeHeader()
	peer.sendRaw(p.RawData())
	peer.manager.pool.Recycle(p)
}

// sendRaw routes outgoing bytes through the merge buffer when they are
// small enough, directly to the socket otherwise.
func (peer *Peer) sendRaw(raw []byte) {
	if !peer.manager.config.MergeEnabled || len(raw)+2 >= peer.mtuNegotiated/2 {
		peer.sendRawDirect(raw)
		return
	}

	if peer.mergeBuffer != nil && peer.mergePos+2+len(raw) > peer.mergeBuffer.GetDataSize() {
		peer.flushMerge()
	}

	if peer.mergeBuffer == nil {
		peer.mergeBuffer = peer.manager.pool.Get(packet.Merged, 0, peer.mtuNegotiated-packet.BaseHeaderSize)
		peer.mergePos = 0
		peer.mergeCount = 0
	}

	body := peer.mergeBuffer.Data()
	binary.LittleEndian.PutUint16(body[peer.mergePos:], uint16(len(raw)))
	copy(body[peer.mergePos+2:], raw)
	peer.mergePos += 2 + len(raw)
	peer.mergeCount++
}

// Flush pushes out the pending merge buffer immediately.
func (peer *Peer) Flush() {
	peer.flushMerge()
}

func (peer *Peer) flushMerge() {
	if peer.mergeBuffer == nil || peer.mergeCount == 0 {
		return
	}

	peer.mergeBuffer.SetSize(packet.BaseHeaderSize + peer.mergePos)
	peer.mergeBuffer.EncodeHeader()
	peer.sendRawDirect(peer.mergeBuffer.RawData())

	peer.manager.pool.Recycle(peer.mergeBuffer)
	peer.mergeBuffer = nil
	peer.mergePos = 0
	peer.mergeCount = 0
}

// sendRawDirect writes bytes to the socket, bypassing the merge buffer.
func (peer *Peer) sendRawDirect(raw []byte) {
	peer.stats.addSent(len(raw))
	peer.manager.sendRaw(raw, peer.endpoint, peer)
}
