package main

import (
	"strings"
	"testing"
)

func TestRelayService_Systemd(t *testing.T) {
	svc, err := relayService("linux", "/home/ann", "/opt/sg/signalgate", "/home/ann/my conf/config.json")
	if err != nil {
		t.Fatal(err)
	}
	if svc.Path != "/home/ann/.config/systemd/user/signalgate.service" {
		t.Errorf("path = %s", svc.Path)
	}
	want := `ExecStart=/opt/sg/signalgate run --config "/home/ann/my conf/config.json"`
	if !strings.Contains(svc.Content, want) {
		t.Errorf("unit missing %q:\n%s", want, svc.Content)
	}
	if strings.Contains(svc.Content, "{{") {
		t.Errorf("unrendered placeholder:\n%s", svc.Content)
	}
}

func TestRelayService_Launchd(t *testing.T) {
	svc, err := relayService("darwin", "/Users/ann", "/usr/local/bin/signalgate", "/Users/ann/a&b/config.json")
	if err != nil {
		t.Fatal(err)
	}
	if svc.Path != "/Users/ann/Library/LaunchAgents/com.signalgate.relay.plist" {
		t.Errorf("path = %s", svc.Path)
	}
	for _, want := range []string{
		"<string>com.signalgate.relay</string>",
		"<string>/Users/ann/a&amp;b/config.json</string>",
		"<string>/Users/ann/.signalgate/logs/signalgate.log</string>",
	} {
		if !strings.Contains(svc.Content, want) {
			t.Errorf("plist missing %q", want)
		}
	}
}

func TestRelayService_UnsupportedOS(t *testing.T) {
	if _, err := relayService("plan9", "/", "/sg", "/c.json"); err == nil {
		t.Fatal("expected error")
	}
}
