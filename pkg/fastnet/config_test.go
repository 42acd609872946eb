// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fastnet

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	conf := DefaultConfig()

	if conf.UpdateTime != 100 || conf.PingInterval != 1000 || conf.DisconnectTimeout != 5000 {
		t.Fatal("Timer defaults are off")
	}
	if conf.ReconnectDelay != 500 || conf.MaxConnectAttempts != 10 {
		t.Fatal("Handshake defaults are off")
	}
	if !conf.MergeEnabled || conf.DiscoveryEnabled || conf.UnconnectedMessagesEnabled || conf.NatPunchEnabled {
		t.Fatal("Feature flag defaults are off")
	}
	if !conf.EnableReliableOrdered || conf.EnableReliableUnordered || !conf.EnableSequenced || conf.EnableSimple {
		t.Fatal("Channel enable defaults are off")
	}
	if !conf.EnableIPv4 || conf.EnableIPv6 || conf.ReuseAddress {
		t.Fatal("Address family defaults are off")
	}
	if conf.MtuStartIdx != -1 {
		t.Fatal("MtuStartIdx default is off")
	}
}

func TestLoadConfig(t *testing.T) {
	content := `
update-time = 50
ping-interval = 250
passcode-key = "sesame"
enable-reliable-unordered = true

[simulation]
simulate-packet-loss = true
simulation-packet-loss-chance = 10

[logging]
level = "debug"
`

	filename := filepath.Join(t.TempDir(), "fastnet.toml")
	if err := os.WriteFile(filename, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	conf, err := LoadConfig(filename)
	if err != nil {
		t.Fatal(err)
	}

	if conf.UpdateTime != 50 || conf.PingInterval != 250 {
		t.Fatal("Overridden timers were not applied")
	}
	if conf.PasscodeKey != "sesame" || !conf.EnableReliableUnordered {
		t.Fatal("Overridden fields were not applied")
	}
	if conf.DisconnectTimeout != 5000 {
		t.Fatal("Unset fields must keep their defaults")
	}
	if !conf.Simulation.SimulatePacketLoss || conf.Simulation.SimulationPacketLossChance != 10 {
		t.Fatal("Simulation block was not applied")
	}
	if conf.updateTime() != 50*time.Millisecond {
		t.Fatal("Duration conversion is off")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("A missing file must fail")
	}
}
