/******************************************************************************
 *
 *  Description :
 *    CPOConfig: the central post office's structural configuration,
 *    loaded from one JSON file; and the separate secrets file holding
 *    per-client credentials, kept apart from the structural config so
 *    manage.write has a well-defined, narrow persistence target.
 *
 *****************************************************************************/
package cpo

import (
	"encoding/json"
	"fmt"
	"os"
)

// CPOConfig is decoded from a JSON file named on the command line.
type CPOConfig struct {
	Name           string `json:"name"`
	LocalAddress   string `json:"local_address"`
	Port           int    `json:"port"`
	PingIntervalMS int    `json:"ping_interval_ms"`
	MaxMessageSize int    `json:"max_message_size"`
	SecretsFile    string `json:"secrets_file"`
	StatsPath      string `json:"stats_path"`

	// DebugAddress, if set, is where /debug/vars and /metrics are served;
	// e.g. ":6222". Empty disables the debug HTTP server entirely.
	DebugAddress string `json:"debug_address"`
}

// LoadCPOConfig reads and validates a CPOConfig from path.
func LoadCPOConfig(path string) (CPOConfig, error) {
	var cfg CPOConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cpo: reading config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("cpo: parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the invariants a CPOConfig must satisfy before a
// CentralPostOffice can be constructed from it.
func (c CPOConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("cpo: config: name is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("cpo: config: port must be in 1-65535")
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("cpo: config: max_message_size must be positive")
	}
	if c.SecretsFile == "" {
		return fmt.Errorf("cpo: config: secrets_file is required")
	}
	return nil
}

// PingInterval returns the configured ping interval, defaulting to 7s
// (within the spec's recommended 5-10s range) when unset.
func (c CPOConfig) PingInterval() int {
	if c.PingIntervalMS <= 0 {
		return 7000
	}
	return c.PingIntervalMS
}

// ClientCredentials is one entry in the secrets file: a configured
// peer's name, base64 shared secret, and manager privilege.
type ClientCredentials struct {
	Name    string `json:"name"`
	Secret  string `json:"secret"`
	Manager bool   `json:"manager"`
}

// LoadSecrets reads the client credential list from path.
func LoadSecrets(path string) ([]ClientCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cpo: reading secrets file %s: %w", path, err)
	}
	var creds []ClientCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("cpo: parsing secrets file %s: %w", path, err)
	}
	for _, c := range creds {
		if c.Name == "" || c.Secret == "" {
			return nil, fmt.Errorf("cpo: secrets file %s: entry with empty name or secret", path)
		}
	}
	return creds, nil
}

// SaveSecrets persists the client credential list to path, used by
// manage.write. Best-effort: writes to a temp file and renames over
// the original so a crash mid-write never corrupts the live file.
func SaveSecrets(path string, creds []ClientCredentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("cpo: marshaling secrets: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("cpo: writing secrets file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("cpo: renaming secrets file: %w", err)
	}
	return nil
}
