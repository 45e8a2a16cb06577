// Package config loads the attestation daemons' YAML configuration,
// applies environment variable substitution and environment-prefixed
// overrides, and validates the result, following the same
// environment-aware loader shape used throughout this codebase's
// ancestry.
package config

import (
	"time"

	"github.com/sgx-ra/sgxra/aesm"
	"github.com/sgx-ra/sgxra/sp"
)

// Config is the top-level configuration file for any of the three
// attestation roles. A deployment only populates the section(s) relevant
// to the role it runs; the others may be left nil.
type Config struct {
	Environment string         `yaml:"environment"`
	SP          *SPConfig      `yaml:"sp"`
	Client      *ClientConfig  `yaml:"client"`
	Enclave     *EnclaveConfig `yaml:"enclave"`
	Logging     LoggingConfig  `yaml:"logging"`
	Metrics     MetricsConfig  `yaml:"metrics"`
}

// SPConfig wraps sp.Config with the network and IAS wiring the sp package
// itself has no opinion on.
type SPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	IasBaseURL string `yaml:"ias_base_url"`
	AuditDSN   string `yaml:"audit_dsn"`

	// IdentityDir is where sp/identity seals the SP's P-256 identity key
	// and Ed25519 audit-signing key at rest. Defaults to ./data/sp-identity.
	IdentityDir string `yaml:"identity_dir"`
	// IdentitySealingKeyHex is the operator's raw 32-byte X25519 private
	// key, hex-encoded, used both to seal newly stored keys and to unseal
	// them back for use. If empty, an ephemeral key is generated at
	// startup and a warning is logged: every restart then seals under a
	// fresh key, so sp_private_key_pem_path is needed to re-bootstrap.
	IdentitySealingKeyHex string `yaml:"identity_sealing_key_hex"`
	// IdentityRotationInterval, if nonzero, rotates the SP's P-256
	// identity key on that schedule without restarting the process.
	IdentityRotationInterval time.Duration `yaml:"identity_rotation_interval"`

	sp.Config `yaml:",inline"`
}

// ClientConfig is the AESM-host's connection wiring and simulated quoting
// identity (this implementation has no real EPID provisioning path; see
// aesm.Simulator).
type ClientConfig struct {
	SPAddr       string        `yaml:"sp_addr"`
	EnclaveAddr  string        `yaml:"enclave_addr"`
	Identity     aesm.Identity `yaml:"identity"`
	ReportKeyHex string        `yaml:"report_key_hex"`
}

// EnclaveConfig is the Enclave role's listen address, the SP's known
// public key it authenticates MSG2 against, and the simulated platform
// report key it shares with the Client's aesm.Simulator out-of-band.
type EnclaveConfig struct {
	ListenAddr         string `yaml:"listen_addr"`
	SpPublicKeyPemPath string `yaml:"sp_public_key_pem_path"`
	ReportKeyHex       string `yaml:"report_key_hex"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}
