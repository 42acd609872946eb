// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fastnet

import (
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// ConfigWatcher re-reads a configuration file whenever it changes and
// applies the simulation block to a running Manager. All other fields are
// frozen at Start and stay untouched.
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// WatchConfig starts watching filename for the Manager m.
func WatchConfig(m *Manager, filename string) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filename); err != nil {
		watcher.Close()
		return nil, err
	}

	cw := &ConfigWatcher{
		watcher: watcher,
		stop:    make(chan struct{}),
	}

	go cw.loop(m, filename)

	log.WithFields(log.Fields{
		"file": filename,
	}).Info("Watching configuration for simulation changes")

	return cw, nil
}

func (cw *ConfigWatcher) loop(m *Manager, filename string) {
	for {
		select {
		case <-cw.stop:
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			conf, err := LoadConfig(filename)
			if err != nil {
				log.WithError(err).Warn("Ignoring unreadable configuration change")
				continue
			}

			m.ApplySimulation(conf.Simulation)
			log.WithFields(log.Fields{
				"loss":    conf.Simulation.SimulatePacketLoss,
				"latency": conf.Simulation.SimulateLatency,
			}).Info("Applied changed simulation settings")

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("Configuration watcher errored")
		}
	}
}

// Close stops watching.
func (cw *ConfigWatcher) Close() {
	close(cw.stop)
	cw.watcher.Close()
}
