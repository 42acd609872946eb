// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package fastnet is the core of the library: it drives the datagram socket,
// the peer table with the per-peer delivery pipelines and the event queue
// feeding the application's listener.
package fastnet

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// Config carries every recognised option. It is frozen when the Manager
// starts; only the simulation knobs may be mutated on a running Manager,
// through Manager.ApplySimulation.
type Config struct {
	// UpdateTime is the tick budget of one Run call in milliseconds.
	UpdateTime int `toml:"update-time"`

	// PingInterval is the keepalive interval in milliseconds.
	PingInterval int `toml:"ping-interval"`

	// DisconnectTimeout is the peer timeout in milliseconds.
	DisconnectTimeout int `toml:"disconnect-timeout"`

	// ReconnectDelay is the delay between handshake retransmissions in
	// milliseconds, MaxConnectAttempts bounds their count.
	ReconnectDelay     int `toml:"reconnect-delay"`
	MaxConnectAttempts int `toml:"max-connect-attempts"`

	// MaxConnections bounds the peer table.
	MaxConnections int `toml:"max-connections"`

	MergeEnabled               bool `toml:"merge-enabled"`
	DiscoveryEnabled           bool `toml:"discovery-enabled"`
	UnconnectedMessagesEnabled bool `toml:"unconnected-messages-enabled"`
	NatPunchEnabled            bool `toml:"nat-punch-enabled"`

	EnableReliableOrdered   bool `toml:"enable-reliable-ordered"`
	EnableReliableUnordered bool `toml:"enable-reliable-unordered"`
	EnableSequenced         bool `toml:"enable-sequenced"`
	EnableSimple            bool `toml:"enable-simple"`

	EnableIPv4   bool `toml:"enable-ipv4"`
	EnableIPv6   bool `toml:"enable-ipv6"`
	ReuseAddress bool `toml:"reuse-address"`

	// MtuStartIdx selects the first MTU candidate to probe; -1 disables
	// probing and fixes the MTU to the second candidate.
	MtuStartIdx int `toml:"mtu-start-idx"`

	// PasscodeKey auto-accepts connection requests carrying the matching
	// key and auto-rejects all others. Empty disables the automatism.
	PasscodeKey string `toml:"passcode-key"`

	Simulation SimulationConfig `toml:"simulation"`

	Logging LogConfig `toml:"logging"`

	// StatisticsListen is the optional listen address of the statistics
	// HTTP endpoint, empty disables it.
	StatisticsListen string `toml:"statistics-listen"`

	// LanDiscovery announces this manager on the local network and
	// auto-connects announced peers, see the discovery package.
	LanDiscovery         bool `toml:"lan-discovery"`
	LanDiscoveryInterval int  `toml:"lan-discovery-interval"`
}

// SimulationConfig holds the debug-only link simulation knobs. These are the
// only fields that stay mutable on a running Manager.
type SimulationConfig struct {
	SimulatePacketLoss         bool `toml:"simulate-packet-loss"`
	SimulationPacketLossChance int  `toml:"simulation-packet-loss-chance"`
	SimulateLatency            bool `toml:"simulate-latency"`
	SimulationMinLatency       int  `toml:"simulation-min-latency"`
	SimulationMaxLatency       int  `toml:"simulation-max-latency"`
}

// LogConfig describes the logging setup, applied by ApplyLogging.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		UpdateTime:            100,
		PingInterval:          1000,
		DisconnectTimeout:     5000,
		ReconnectDelay:        500,
		MaxConnectAttempts:    10,
		MaxConnections:        16,
		MergeEnabled:          true,
		EnableReliableOrdered: true,
		EnableSequenced:       true,
		EnableIPv4:            true,
		MtuStartIdx:           -1,
		LanDiscoveryInterval:  10000,
	}
}

// LoadConfig reads a TOML configuration file over the defaults.
func LoadConfig(filename string) (*Config, error) {
	conf := DefaultConfig()
	if _, err := toml.DecodeFile(filename, conf); err != nil {
		return nil, fmt.Errorf("decoding %s failed: %w", filename, err)
	}
	return conf, nil
}

// ApplyLogging configures logrus from the Logging block.
func (conf *Config) ApplyLogging() {
	if conf.Logging.Level != "" {
		if lvl, err := log.ParseLevel(conf.Logging.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Logging.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	switch conf.Logging.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

func (conf *Config) updateTime() time.Duration {
	return time.Duration(conf.UpdateTime) * time.Millisecond
}

func (conf *Config) pingInterval() time.Duration {
	return time.Duration(conf.PingInterval) * time.Millisecond
}

func (conf *Config) disconnectTimeout() time.Duration {
	return time.Duration(conf.DisconnectTimeout) * time.Millisecond
}

func (conf *Config) reconnectDelay() time.Duration {
	return time.Duration(conf.ReconnectDelay) * time.Millisecond
}
