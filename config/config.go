// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a file, trying YAML first and
// falling back to JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile saves configuration to a file. The format is chosen by the
// path's extension (".json" for JSON, everything else as YAML).
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) >= 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setDefaults fills in the fields a deployment will almost always want
// but shouldn't have to repeat in every environment's config file.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.SP != nil {
		if cfg.SP.ListenAddr == "" {
			cfg.SP.ListenAddr = "0.0.0.0:7766"
		}
		if cfg.SP.QuoteTrustOptions == nil {
			cfg.SP.QuoteTrustOptions = []string{}
		}
		if cfg.SP.PseTrustOptions == nil {
			cfg.SP.PseTrustOptions = []string{}
		}
	}

	if cfg.Client != nil {
		if cfg.Client.SPAddr == "" {
			cfg.Client.SPAddr = "127.0.0.1:7766"
		}
		if cfg.Client.EnclaveAddr == "" {
			cfg.Client.EnclaveAddr = "127.0.0.1:7767"
		}
	}

	if cfg.Enclave != nil {
		if cfg.Enclave.ListenAddr == "" {
			cfg.Enclave.ListenAddr = "0.0.0.0:7767"
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "0.0.0.0:9090"
	}
}

// ValidationIssue is one problem found by ValidateConfiguration.
// Level is either "error" (Load fails) or "warn" (Load proceeds).
type ValidationIssue struct {
	Field   string
	Message string
	Level   string
}

// ValidateConfiguration checks a loaded Config against this
// implementation's requirements (§1, §6): only the linkable,
// non-random-nonce, non-platform-service subset of the protocol is
// supported, and a role that is configured must have its required
// collaborator paths set.
func ValidateConfiguration(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.SP != nil {
		sp := cfg.SP
		if !sp.Linkable {
			issues = append(issues, ValidationIssue{"sp.linkable", "only linkable quotes are supported", "error"})
		}
		if sp.RandomNonce {
			issues = append(issues, ValidationIssue{"sp.random_nonce", "random nonces are not supported", "error"})
		}
		if sp.UsePlatformService {
			issues = append(issues, ValidationIssue{"sp.use_platform_service", "platform service is not supported", "error"})
		}
		if sp.Spid == "" {
			issues = append(issues, ValidationIssue{"sp.spid", "spid is required", "error"})
		}
		if sp.SpPrivateKeyPemPath == "" {
			issues = append(issues, ValidationIssue{"sp.sp_private_key_pem_path", "sp private key path is required", "error"})
		}
		if sp.SigstructPath == "" {
			issues = append(issues, ValidationIssue{"sp.sigstruct_path", "sigstruct path is required", "error"})
		}
		if sp.PrimarySubscriptionKey == "" {
			issues = append(issues, ValidationIssue{"sp.primary_subscription_key", "IAS subscription key is required", "warn"})
		}
	}

	if cfg.Client != nil {
		if cfg.Client.SPAddr == "" {
			issues = append(issues, ValidationIssue{"client.sp_addr", "sp_addr is required", "error"})
		}
		if cfg.Client.EnclaveAddr == "" {
			issues = append(issues, ValidationIssue{"client.enclave_addr", "enclave_addr is required", "error"})
		}
	}

	if cfg.Enclave != nil {
		if cfg.Enclave.SpPublicKeyPemPath == "" {
			issues = append(issues, ValidationIssue{"enclave.sp_public_key_pem_path", "sp public key path is required", "error"})
		}
	}

	return issues
}
