// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"reflect"
	"testing"
)

func TestAnnouncementsRoundTrip(t *testing.T) {
	tests := [][]Announcement{
		{},
		{{Identifier: "alpha", Port: 9050}},
		{{Identifier: "alpha", Port: 9050}, {Identifier: "beta", Port: 9051}},
	}

	for _, announcements := range tests {
		data, err := MarshalAnnouncements(announcements)
		if err != nil {
			t.Fatal(err)
		}

		restored, err := UnmarshalAnnouncements(data)
		if err != nil {
			t.Fatal(err)
		}

		if len(restored) != len(announcements) {
			t.Fatalf("Length mismatch: %d != %d", len(restored), len(announcements))
		}
		for i := range announcements {
			if !reflect.DeepEqual(announcements[i], restored[i]) {
				t.Fatalf("Announcement %d mismatches: %v != %v", i, restored[i], announcements[i])
			}
		}
	}
}

func TestAnnouncementInvalidPort(t *testing.T) {
	data, err := MarshalAnnouncements([]Announcement{{Identifier: "x", Port: 70000}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := UnmarshalAnnouncements(data); err == nil {
		t.Fatal("An out-of-range port must fail to unmarshal")
	}
}

func TestAnnouncementGarbage(t *testing.T) {
	if _, err := UnmarshalAnnouncements([]byte{0xFF, 0x00, 0x23}); err == nil {
		t.Fatal("Garbage must fail to unmarshal")
	}
}
