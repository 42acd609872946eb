// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/schollz/peerdiscovery"
)

const (
	address4 = "239.23.23.23"
	address6 = "[ff02::23]"

	port = 35039
)

// Service publishes and receives Announcements. Each received announcement
// of a foreign identifier is handed to the ConnectFunc, which is expected to
// submit a connect to the Manager's tick thread.
type Service struct {
	// Identifier is the local announcement identity; announcements
	// carrying the same one are ignored.
	Identifier string

	// ConnectFunc is invoked with "host:port" of every discovered peer.
	ConnectFunc func(address string)

	stopChan4 chan struct{}
	stopChan6 chan struct{}
}

// NewService creates and starts a discovery Service announcing the local
// Manager's port every interval, through IPv4 and/or IPv6 multicast.
func NewService(identifier string, localPort uint, interval time.Duration,
	ipv4, ipv6 bool, connectFunc func(address string)) (*Service, error) {

	service := &Service{
		Identifier:  identifier,
		ConnectFunc: connectFunc,
	}
	if ipv4 {
		service.stopChan4 = make(chan struct{})
	}
	if ipv6 {
		service.stopChan6 = make(chan struct{})
	}

	log.WithFields(log.Fields{
		"identifier": identifier,
		"interval":   interval,
		"IPv4":       ipv4,
		"IPv6":       ipv6,
	}).Info("Starting discovery service")

	msg, err := MarshalAnnouncements([]Announcement{
		{Identifier: identifier, Port: localPort},
	})
	if err != nil {
		return nil, err
	}

	sets := []struct {
		active           bool
		multicastAddress string
		stopChan         chan struct{}
		ipVersion        peerdiscovery.IPVersion
		notify           func(discovered peerdiscovery.Discovered)
	}{
		{ipv4, address4, service.stopChan4, peerdiscovery.IPv4, service.notify},
		{ipv6, address6, service.stopChan6, peerdiscovery.IPv6, service.notify6},
	}

	for _, set := range sets {
		if !set.active {
			continue
		}

		settings := peerdiscovery.Settings{
			Limit:            -1,
			Port:             fmt.Sprintf("%d", port),
			MulticastAddress: set.multicastAddress,
			Payload:          msg,
			Delay:            interval,
			TimeLimit:        -1,
			StopChan:         set.stopChan,
			AllowSelf:        true,
			IPVersion:        set.ipVersion,
			Notify:           set.notify,
		}

		discoverErrChan := make(chan error)
		go func() {
			_, discoverErr := peerdiscovery.Discover(settings)
			discoverErrChan <- discoverErr
		}()

		select {
		case discoverErr := <-discoverErrChan:
			if discoverErr != nil {
				return nil, discoverErr
			}

		case <-time.After(time.Second):
			break
		}
	}

	return service, nil
}

func (service *Service) notify6(discovered peerdiscovery.Discovered) {
	discovered.Address = fmt.Sprintf("[%s]", discovered.Address)

	service.notify(discovered)
}

func (service *Service) notify(discovered peerdiscovery.Discovered) {
	announcements, err := UnmarshalAnnouncements(discovered.Payload)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"peer": discovered.Address,
		}).Warn("Peer discovery failed to parse incoming package")

		return
	}

	for _, announcement := range announcements {
		service.handleDiscovery(announcement, discovered.Address)
	}
}

func (service *Service) handleDiscovery(announcement Announcement, addr string) {
	log.WithFields(log.Fields{
		"peer":    addr,
		"message": announcement,
	}).Debug("Peer discovery received a message")

	if announcement.Identifier == service.Identifier {
		return
	}

	service.ConnectFunc(fmt.Sprintf("%s:%d", addr, announcement.Port))
}

// Close this Service.
func (service *Service) Close() {
	for _, c := range []chan struct{}{service.stopChan4, service.stopChan6} {
		if c != nil {
			c <- struct{}{}
		}
	}
}
