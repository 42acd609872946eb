// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package stats exposes a running Manager's peer statistics over HTTP and
// streams lifecycle events over a websocket. It is read-only: nothing in
// here mutates transport state.
package stats

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/DanisJoyal/FastNetLib/pkg/fastnet"
	"github.com/DanisJoyal/FastNetLib/pkg/netdata"
	"github.com/DanisJoyal/FastNetLib/pkg/packet"
)

// peerInfo is the JSON shape of one peer on GET /peers.
type peerInfo struct {
	Endpoint string                     `json:"endpoint"`
	State    string                     `json:"state"`
	Stats    fastnet.StatisticsSnapshot `json:"stats"`
}

// lifecycleEvent is one websocket frame on /events.
type lifecycleEvent struct {
	Kind     string `json:"kind"`
	Endpoint string `json:"endpoint,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Latency  int64  `json:"latency-ms,omitempty"`
}

// Server is the statistics endpoint. It reads only the peer-list snapshot
// the Manager's tick thread publishes once per Run, so serving it from the
// HTTP goroutines is safe.
type Server struct {
	manager *fastnet.Manager
	srv     *http.Server

	upgrader websocket.Upgrader

	mutex   sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewServer creates a Server for the Manager, listening on listen once
// Start is called.
func NewServer(manager *fastnet.Manager, listen string) *Server {
	server := &Server{
		manager: manager,
		clients: make(map[*websocket.Conn]struct{}),
	}

	router := mux.NewRouter()
	router.HandleFunc("/peers", server.handlePeers).Methods("GET")
	router.HandleFunc("/events", server.handleEvents).Methods("GET")

	server.srv = &http.Server{
		Addr:    listen,
		Handler: router,
	}

	return server
}

// Start serves in the background until Close.
func (server *Server) Start() {
	go func() {
		if err := server.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("Statistics server stopped serving")
		}
	}()

	log.WithFields(log.Fields{
		"listen": server.srv.Addr,
	}).Info("Statistics server started")
}

// Close shuts the server and all websocket clients down.
func (server *Server) Close() error {
	server.mutex.Lock()
	for client := range server.clients {
		client.Close()
	}
	server.clients = make(map[*websocket.Conn]struct{})
	server.mutex.Unlock()

	return server.srv.Close()
}

func (server *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	infos := []peerInfo{}
	for _, snapshot := range server.manager.PeerSnapshots() {
		infos = append(infos, peerInfo{
			Endpoint: snapshot.Endpoint.String(),
			State:    snapshot.State.String(),
			Stats:    snapshot.Stats,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		log.WithError(err).Warn("Encoding peer statistics failed")
	}
}

func (server *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := server.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	server.mutex.Lock()
	server.clients[conn] = struct{}{}
	server.mutex.Unlock()
}

// broadcast sends one event frame to every connected websocket client,
// dropping clients whose connection errored.
func (server *Server) broadcast(event lifecycleEvent) {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	for client := range server.clients {
		if err := client.WriteJSON(event); err != nil {
			client.Close()
			delete(server.clients, client)
		}
	}
}

// WrapListener decorates an EventListener so that lifecycle events are also
// streamed to the websocket clients. The inner listener keeps receiving
// everything unchanged.
func (server *Server) WrapListener(inner fastnet.EventListener) fastnet.EventListener {
	return &broadcastListener{server: server, inner: inner}
}

type broadcastListener struct {
	server *Server
	inner  fastnet.EventListener
}

func (l *broadcastListener) OnPeerConnected(peer *fastnet.Peer) {
	l.server.broadcast(lifecycleEvent{Kind: "connect", Endpoint: peer.Endpoint().String()})
	l.inner.OnPeerConnected(peer)
}

func (l *broadcastListener) OnPeerDisconnected(peer *fastnet.Peer, info fastnet.DisconnectInfo) {
	l.server.broadcast(lifecycleEvent{
		Kind:     "disconnect",
		Endpoint: peer.Endpoint().String(),
		Reason:   info.Reason.String(),
	})
	l.inner.OnPeerDisconnected(peer, info)
}

func (l *broadcastListener) OnNetworkError(endpoint *net.UDPAddr, err error) {
	l.inner.OnNetworkError(endpoint, err)
}

func (l *broadcastListener) OnNetworkReceive(peer *fastnet.Peer, reader *netdata.Reader, method packet.DeliveryMethod, channelNumber uint8) {
	l.inner.OnNetworkReceive(peer, reader, method, channelNumber)
}

func (l *broadcastListener) OnNetworkReceiveUnconnected(endpoint *net.UDPAddr, reader *netdata.Reader, kind fastnet.UnconnectedMessageType) {
	l.inner.OnNetworkReceiveUnconnected(endpoint, reader, kind)
}

func (l *broadcastListener) OnNetworkLatencyUpdate(peer *fastnet.Peer, latency time.Duration) {
	l.server.broadcast(lifecycleEvent{
		Kind:     "latency",
		Endpoint: peer.Endpoint().String(),
		Latency:  latency.Milliseconds(),
	})
	l.inner.OnNetworkLatencyUpdate(peer, latency)
}

func (l *broadcastListener) OnConnectionRequest(request *fastnet.ConnectionRequest) {
	l.inner.OnConnectionRequest(request)
}
