// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stats

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DanisJoyal/FastNetLib/pkg/fastnet"
	"github.com/DanisJoyal/FastNetLib/pkg/netdata"
	"github.com/DanisJoyal/FastNetLib/pkg/packet"
)

// quietListener satisfies the EventListener surface; the passcode handles
// acceptance, so nothing needs to react here.
type quietListener struct{}

func (quietListener) OnPeerConnected(*fastnet.Peer)                            {}
func (quietListener) OnPeerDisconnected(*fastnet.Peer, fastnet.DisconnectInfo) {}
func (quietListener) OnNetworkError(*net.UDPAddr, error)                       {}
func (quietListener) OnNetworkLatencyUpdate(*fastnet.Peer, time.Duration)      {}
func (quietListener) OnConnectionRequest(request *fastnet.ConnectionRequest)   { request.Accept() }
func (quietListener) OnNetworkReceive(*fastnet.Peer, *netdata.Reader, packet.DeliveryMethod, uint8) {
}
func (quietListener) OnNetworkReceiveUnconnected(*net.UDPAddr, *netdata.Reader, fastnet.UnconnectedMessageType) {
}

func TestPeersEndpoint(t *testing.T) {
	serverConf := fastnet.DefaultConfig()
	serverConf.PasscodeKey = "k"

	manager := fastnet.NewManager(serverConf, quietListener{})
	if err := manager.Start("127.0.0.1", "", 0); err != nil {
		t.Fatal(err)
	}
	defer manager.Stop()

	client := fastnet.NewManager(fastnet.DefaultConfig(), quietListener{})
	if err := client.Start("127.0.0.1", "", 0); err != nil {
		t.Fatal(err)
	}
	defer client.Stop()

	if _, err := client.ConnectTo(fmt.Sprintf("127.0.0.1:%d", manager.LocalPort()), []byte("k")); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20 && manager.PeersCount() < 1; i++ {
		if err := manager.Run(15 * time.Millisecond); err != nil {
			t.Fatal(err)
		}
		if err := client.Run(15 * time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}
	if manager.PeersCount() != 1 {
		t.Fatal("Managers did not connect")
	}

	statsServer := NewServer(manager, "127.0.0.1:0")
	ts := httptest.NewServer(statsServer.srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/peers")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status is %d", resp.StatusCode)
	}

	var infos []peerInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatal(err)
	}

	if len(infos) != 1 {
		t.Fatalf("Endpoint reported %d peers, expected 1", len(infos))
	}
	if infos[0].State != "Connected" {
		t.Fatalf("Peer state is %q", infos[0].State)
	}
	if _, err := net.ResolveUDPAddr("udp", infos[0].Endpoint); err != nil {
		t.Fatalf("Peer endpoint %q does not parse: %v", infos[0].Endpoint, err)
	}
}

func TestPeersEndpointEmpty(t *testing.T) {
	manager := fastnet.NewManager(fastnet.DefaultConfig(), quietListener{})

	statsServer := NewServer(manager, "127.0.0.1:0")
	ts := httptest.NewServer(statsServer.srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/peers")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var infos []peerInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 0 {
		t.Fatalf("A fresh manager reported %d peers", len(infos))
	}
}
