// Package config loads the on-disk configuration a `helper` process
// needs at startup: the listen address, the TLS material paths, and
// the peer identity table mapping every other helper's HelperIdentity
// to its H2H base URL. It uses gopkg.in/yaml.v3 for declarative,
// human-editable deployment configs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ipaproto/helper/pkg/gateway"
	"github.com/ipaproto/helper/pkg/types"
)

// PeerConfig describes one other helper in the cluster as far as this
// helper's network layer needs to know: its stable identity and the
// base URL of its H2H listener.
type PeerConfig struct {
	Identity string `yaml:"identity"`
	Address  string `yaml:"address"`
}

// TLSConfig locates this helper's own certificate material and the CA
// bundle used to verify peers.
type TLSConfig struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
	CAFile   string `yaml:"caFile"`
}

// GatewayConfig mirrors gateway.Config's tunables for YAML loading;
// zero values fall back to gateway.DefaultConfig().
type GatewayConfig struct {
	HighWaterMarkBytes int           `yaml:"highWaterMarkBytes"`
	BatchBytes         int           `yaml:"batchBytes"`
	BatchInterval      time.Duration `yaml:"batchInterval"`
}

// Config is the full on-disk shape of a helper's startup configuration.
type Config struct {
	// Self is this helper's own HelperIdentity, matching the CN on its
	// certificate.
	Self string `yaml:"self"`
	// ListenAddr is the address the combined Query/H2H listener binds.
	ListenAddr string `yaml:"listenAddr"`
	// Peers lists the other helpers in the cluster. Exactly two entries
	// are expected for a three-party deployment.
	Peers []PeerConfig `yaml:"peers"`
	// TLS locates this helper's certificate material.
	TLS TLSConfig `yaml:"tls"`
	// RecordCipherKeyFile points at a 32-byte raw AES-256 key file used
	// to decrypt collector-submitted input records (pkg/crypto). Empty
	// means records are accepted as plaintext, which is only safe for
	// local testing.
	RecordCipherKeyFile string `yaml:"recordCipherKeyFile,omitempty"`
	// QueryTimeout overrides query.DefaultQueryTimeout when nonzero.
	QueryTimeout time.Duration `yaml:"queryTimeout,omitempty"`
	// Gateway overrides gateway.DefaultConfig()'s batching/backpressure
	// tunables when any field is nonzero.
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the structural requirements a deployment must
// satisfy: a named self identity, a listen address, and exactly two
// peers to complete the three-party ring.
func (c Config) Validate() error {
	if c.Self == "" {
		return fmt.Errorf("config: self identity is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listenAddr is required")
	}
	if len(c.Peers) != 2 {
		return fmt.Errorf("config: expected exactly 2 peers for a three-party ring, got %d", len(c.Peers))
	}
	if c.TLS.CertFile == "" || c.TLS.KeyFile == "" || c.TLS.CAFile == "" {
		return fmt.Errorf("config: tls.certFile, tls.keyFile, and tls.caFile are all required")
	}
	return nil
}

// SelfIdentity returns Self typed as a types.HelperIdentity.
func (c Config) SelfIdentity() types.HelperIdentity { return types.HelperIdentity(c.Self) }

// FollowerIdentities returns the two peer identities, typed, in the
// order they appear in the config file.
func (c Config) FollowerIdentities() []types.HelperIdentity {
	out := make([]types.HelperIdentity, 0, len(c.Peers))
	for _, p := range c.Peers {
		out = append(out, types.HelperIdentity(p.Identity))
	}
	return out
}

// Addresses builds the AddressBook the https.Transport needs from the
// peer table's identity/address pairs.
func (c Config) Addresses() map[types.HelperIdentity]string {
	out := make(map[types.HelperIdentity]string, len(c.Peers))
	for _, p := range c.Peers {
		out[types.HelperIdentity(p.Identity)] = p.Address
	}
	return out
}

// GatewayConfigOrDefault resolves the gateway tuning knobs, falling back to
// gateway.DefaultConfig() field by field where the YAML value is zero.
func (c Config) GatewayConfigOrDefault() gateway.Config {
	def := gateway.DefaultConfig()
	out := def
	if c.Gateway.HighWaterMarkBytes > 0 {
		out.HighWaterMarkBytes = c.Gateway.HighWaterMarkBytes
	}
	if c.Gateway.BatchBytes > 0 {
		out.BatchBytes = c.Gateway.BatchBytes
	}
	if c.Gateway.BatchInterval > 0 {
		out.BatchInterval = c.Gateway.BatchInterval
	}
	return out
}
