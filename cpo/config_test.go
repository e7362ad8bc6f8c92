package cpo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestCPOConfigValidateRequiresFields(t *testing.T) {
	cases := []CPOConfig{
		{},
		{Name: "central"},
		{Name: "central", Port: 70000, MaxMessageSize: 1024, SecretsFile: "s.json"},
		{Name: "central", Port: 7000, MaxMessageSize: 0, SecretsFile: "s.json"},
		{Name: "central", Port: 7000, MaxMessageSize: 1024, SecretsFile: ""},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %#v", i, c)
		}
	}
	ok := CPOConfig{Name: "central", Port: 7000, MaxMessageSize: 1024, SecretsFile: "s.json"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid config to pass: %v", err)
	}
}

func TestCPOConfigPingIntervalDefault(t *testing.T) {
	c := CPOConfig{}
	if c.PingInterval() != 7000 {
		t.Fatalf("PingInterval() = %d, want default 7000", c.PingInterval())
	}
	c.PingIntervalMS = 3000
	if c.PingInterval() != 3000 {
		t.Fatalf("PingInterval() = %d, want configured 3000", c.PingInterval())
	}
}

func TestLoadCPOConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cpo.json")
	cfg := CPOConfig{
		Name:           "central",
		LocalAddress:   "0.0.0.0",
		Port:           7070,
		MaxMessageSize: 65536,
		SecretsFile:    "secrets.json",
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := LoadCPOConfig(path)
	if err != nil {
		t.Fatalf("LoadCPOConfig: %v", err)
	}
	if loaded != cfg {
		t.Fatalf("loaded config %#v != written %#v", loaded, cfg)
	}
}

func TestSaveAndLoadSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.json")
	creds := []ClientCredentials{
		{Name: "alpha", Secret: b64("alpha-secret"), Manager: false},
		{Name: "mgr", Secret: b64("mgr-secret"), Manager: true},
	}
	if err := SaveSecrets(path, creds); err != nil {
		t.Fatalf("SaveSecrets: %v", err)
	}

	loaded, err := LoadSecrets(path)
	if err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	if len(loaded) != 2 || loaded[0] != creds[0] || loaded[1] != creds[1] {
		t.Fatalf("loaded creds %#v != written %#v", loaded, creds)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected .tmp file to be renamed away, stat err = %v", err)
	}
}

func TestLoadSecretsRejectsEmptyNameOrSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	data, _ := json.Marshal([]ClientCredentials{{Name: "", Secret: "x"}})
	os.WriteFile(path, data, 0600)

	if _, err := LoadSecrets(path); err == nil {
		t.Fatalf("expected error loading secrets with an empty name")
	}
}
