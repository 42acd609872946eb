// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// fnl-pong is a small echo example: in server mode it accepts connections
// and echoes every payload back on the channel it arrived on, in client
// mode it connects, sends a line per second and prints the echoes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/DanisJoyal/FastNetLib/pkg/discovery"
	"github.com/DanisJoyal/FastNetLib/pkg/fastnet"
	"github.com/DanisJoyal/FastNetLib/pkg/netdata"
	"github.com/DanisJoyal/FastNetLib/pkg/packet"
	"github.com/DanisJoyal/FastNetLib/pkg/stats"
)

// pongListener echoes in server mode and prints in client mode.
type pongListener struct {
	manager *fastnet.Manager
	echo    bool
}

func (l *pongListener) OnPeerConnected(peer *fastnet.Peer) {
	log.WithFields(log.Fields{
		"peer": peer.Endpoint(),
	}).Info("Peer connected")
}

func (l *pongListener) OnPeerDisconnected(peer *fastnet.Peer, info fastnet.DisconnectInfo) {
	log.WithFields(log.Fields{
		"peer":   peer.Endpoint(),
		"reason": info.Reason,
	}).Info("Peer disconnected")
}

func (l *pongListener) OnNetworkError(endpoint *net.UDPAddr, err error) {
	log.WithFields(log.Fields{
		"endpoint": endpoint,
		"error":    err,
	}).Warn("Network error")
}

func (l *pongListener) OnNetworkReceive(peer *fastnet.Peer, reader *netdata.Reader, method packet.DeliveryMethod, _ uint8) {
	data := reader.Data()
	if l.echo {
		if err := peer.Send(data, method); err != nil {
			log.WithError(err).Warn("Echo failed")
		}
		return
	}

	fmt.Printf("<- %s\n", data)
}

func (l *pongListener) OnNetworkReceiveUnconnected(endpoint *net.UDPAddr, _ *netdata.Reader, kind fastnet.UnconnectedMessageType) {
	if kind == fastnet.DiscoveryRequestMessage {
		if err := l.manager.SendDiscoveryResponse([]byte("fnl-pong"), endpoint); err != nil {
			log.WithError(err).Warn("Discovery response failed")
		}
	}
}

func (l *pongListener) OnNetworkLatencyUpdate(peer *fastnet.Peer, latency time.Duration) {
	log.WithFields(log.Fields{
		"peer":    peer.Endpoint(),
		"latency": latency,
	}).Debug("Latency updated")
}

func (l *pongListener) OnConnectionRequest(request *fastnet.ConnectionRequest) {
	request.Accept()
}

func main() {
	var (
		configFile = flag.String("config", "", "TOML configuration file")
		listen     = flag.Int("listen", 0, "server mode: listen on this port")
		connect    = flag.String("connect", "", "client mode: connect to host:port")
		key        = flag.String("key", "", "connection key")
	)
	flag.Parse()

	conf := fastnet.DefaultConfig()
	if *configFile != "" {
		var err error
		if conf, err = fastnet.LoadConfig(*configFile); err != nil {
			log.WithError(err).Fatal("Failed to parse config")
		}
	}
	conf.ApplyLogging()

	if (*listen == 0) == (*connect == "") {
		fmt.Fprintf(os.Stderr, "Usage: %s -listen PORT | -connect HOST:PORT [-key KEY] [-config FILE]\n", os.Args[0])
		os.Exit(1)
	}

	listener := &pongListener{echo: *listen != 0}

	m := fastnet.NewManager(conf, listener)
	listener.manager = m

	var statsServer *stats.Server
	if conf.StatisticsListen != "" {
		statsServer = stats.NewServer(m, conf.StatisticsListen)
		m.SetListener(statsServer.WrapListener(listener))
	}

	if err := m.Start("", "", *listen); err != nil {
		log.WithError(err).Fatal("Failed to start")
	}

	if statsServer != nil {
		statsServer.Start()
		defer statsServer.Close()
	}

	if *configFile != "" {
		if watcher, err := fastnet.WatchConfig(m, *configFile); err != nil {
			log.WithError(err).Warn("Configuration watching is unavailable")
		} else {
			defer watcher.Close()
		}
	}

	var discoveryService *discovery.Service
	if conf.LanDiscovery {
		service, err := discovery.NewService(
			fmt.Sprintf("fnl-pong-%d", os.Getpid()), uint(m.LocalPort()),
			time.Duration(conf.LanDiscoveryInterval)*time.Millisecond,
			conf.EnableIPv4, conf.EnableIPv6,
			func(address string) {
				// Runs on the discovery goroutine, so the connect has
				// to go through the manager's submission queue.
				if err := m.SubmitConnect(address, []byte(*key)); err != nil {
					log.WithError(err).Warn("Submitting a discovered peer failed")
				}
			})
		if err != nil {
			log.WithError(err).Warn("LAN discovery is unavailable")
		} else {
			discoveryService = service
			defer discoveryService.Close()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if *connect != "" {
		if _, err := m.ConnectTo(*connect, []byte(*key)); err != nil {
			log.WithError(err).Fatal("Connect failed")
		}
		go clientTalker(ctx, m)
	}

	if err := m.RunLoop(ctx); err != nil && err != fastnet.ErrNotRunning {
		log.WithError(err).Error("Run loop ended")
	}
	log.Info("Shutting down..")
}

// clientTalker submits one numbered line per second from outside the tick
// thread.
func clientTalker(ctx context.Context, m *fastnet.Manager) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		peer := m.FirstPeer()
		if peer == nil {
			continue
		}

		msg := []byte(fmt.Sprintf("ping %d", i))
		if err := m.SubmitSend(peer, msg, packet.DeliveryReliableOrdered); err != nil {
			log.WithError(err).Warn("Submit failed")
		}
	}
}
