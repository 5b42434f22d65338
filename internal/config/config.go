// Package config loads the YAML configuration file cmd/cdndata reads at
// startup. The engine package itself never parses YAML: this is a
// cmd-level convenience layered on top of a plain engine.Config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"sigs.k8s.io/yaml"
)

// Config is the on-disk shape of a peer's configuration file.
type Config struct {
	// Root is the engine's root directory on this host.
	Root string `json:"root"`

	// Uploader marks this peer as one that accepts new deposits and owns
	// an uploads/ directory. Non-uploader peers are replication targets
	// only.
	Uploader bool `json:"uploader"`

	Replicator ReplicatorConfig `json:"replicator"`
}

type ReplicatorConfig struct {
	// Group is the csync2 group name; empty disables replication.
	Group string `json:"group"`

	// Binary is the csync2 executable path; empty uses "csync2" from PATH.
	Binary string `json:"binary"`

	// Timeout is read from the file as a duration string such as "30s".
	// cmd/cdndata does not apply it: replication invocations run without
	// a deadline of their own.
	Timeout time.Duration `json:"timeout"`
}

// UnmarshalJSON decodes timeout from a duration string such as "30s".
func (r *ReplicatorConfig) UnmarshalJSON(data []byte) error {
	type plain ReplicatorConfig
	raw := struct {
		*plain
		Timeout string `json:"timeout"`
	}{plain: (*plain)(r)}
	err := json.Unmarshal(data, &raw)
	if err == nil && raw.Timeout != "" {
		r.Timeout, err = time.ParseDuration(raw.Timeout)
	}
	return err
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if c.Root == "" {
		return nil, fmt.Errorf("config: %s: root is required", path)
	}
	return &c, nil
}
