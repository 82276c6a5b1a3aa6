package database

import (
	"testing"
	"time"
)

func TestConsentAllows(t *testing.T) {
	revoked := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		consent    *Consent
		capability Capability
		want       bool
	}{
		{"nil consent", nil, CapabilityRecognition, false},
		{"default row", &Consent{}, CapabilityRecognition, false},
		{"recognition on", &Consent{AllowRecognition: true}, CapabilityRecognition, true},
		{"recognition does not grant display", &Consent{AllowRecognition: true}, CapabilityProfileDisplay, false},
		{"display on", &Consent{AllowProfileDisplay: true}, CapabilityProfileDisplay, true},
		{"revoked", &Consent{AllowRecognition: true, RevokedAt: &revoked}, CapabilityRecognition, false},
		{"unknown capability", &Consent{AllowRecognition: true, AllowProfileDisplay: true}, Capability("email"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.consent.Allows(tc.capability); got != tc.want {
				t.Errorf("Allows(%q) = %v, want %v", tc.capability, got, tc.want)
			}
		})
	}
}

func TestEventValidWindow(t *testing.T) {
	start := time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
	before := start.Add(-time.Minute)
	after := start.Add(3 * time.Hour)

	tests := []struct {
		name string
		ends *time.Time
		want bool
	}{
		{"open ended", nil, true},
		{"same instant", &start, true},
		{"ends later", &after, true},
		{"ends before start", &before, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := Event{StartsAt: start, EndsAt: tc.ends}
			if got := e.ValidWindow(); got != tc.want {
				t.Errorf("ValidWindow() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEnumValidity(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusInProgress, StatusCompleted, StatusFailed} {
		if !s.Valid() {
			t.Errorf("Status %q should be valid", s)
		}
	}
	if Status("done").Valid() {
		t.Error("Status \"done\" should be invalid")
	}

	for _, r := range []Role{RoleAttendee, RoleOrganizer, RoleAdmin} {
		if !r.Valid() {
			t.Errorf("Role %q should be valid", r)
		}
	}
	if RoleAttendee.CanManage() {
		t.Error("attendees must not manage members")
	}
	if !RoleOrganizer.CanManage() || !RoleAdmin.CanManage() {
		t.Error("organizers and admins manage members")
	}
}

func TestProfileDisplayName(t *testing.T) {
	var nilProfile *Profile
	if got := nilProfile.DisplayName(); got != "Unknown" {
		t.Errorf("nil DisplayName() = %q", got)
	}
	if got := (&Profile{FullName: "Ada Lovelace"}).DisplayName(); got != "Ada Lovelace" {
		t.Errorf("DisplayName() = %q", got)
	}
	if (&Profile{}).HasPhoto() {
		t.Error("empty profile should have no photo")
	}
}
