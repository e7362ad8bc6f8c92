/******************************************************************************
 *
 *  Description :
 *    POConfig: the post office's command-line-supplied configuration,
 *    loaded eagerly and validated fatally at startup.
 *
 *****************************************************************************/
package postoffice

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
)

// POConfig is decoded from a JSON file named on the command line.
type POConfig struct {
	Name      string `json:"name"`
	Secret    string `json:"secret"`
	QueueSize int    `json:"queue_size"`
	CPOHost   string `json:"cpo_host"`
	CPOPort   int    `json:"cpo_port"`
}

// LoadPOConfig reads and validates a POConfig from path.
func LoadPOConfig(path string) (POConfig, error) {
	var cfg POConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("postoffice: reading config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("postoffice: parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the invariants a POConfig must satisfy before a
// PostOffice can be constructed from it.
func (c POConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("postoffice: config: name is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("postoffice: config: secret is required")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("postoffice: config: queue_size must be positive")
	}
	if c.CPOHost == "" {
		return fmt.Errorf("postoffice: config: cpo_host is required")
	}
	if c.CPOPort < 1 || c.CPOPort > 65535 {
		return fmt.Errorf("postoffice: config: cpo_port must be in 1-65535")
	}
	return nil
}

// DecodedSecret base64-decodes the configured shared secret.
func (c POConfig) DecodedSecret() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return nil, fmt.Errorf("postoffice: config: secret is not valid base64: %w", err)
	}
	return b, nil
}

// NewFromConfig constructs and validates a PostOffice from cfg.
func NewFromConfig(cfg POConfig) (*PostOffice, error) {
	secret, err := cfg.DecodedSecret()
	if err != nil {
		return nil, err
	}
	return New(Config{
		Name:      cfg.Name,
		Secret:    secret,
		QueueSize: cfg.QueueSize,
		CPOHost:   cfg.CPOHost,
		CPOPort:   cfg.CPOPort,
	})
}
