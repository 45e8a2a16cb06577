// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} or ${VAR:default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment
// variable values.
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig recursively substitutes environment variables
// into every string field a deployment is likely to template.
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.SP != nil {
		cfg.SP.Spid = SubstituteEnvVars(cfg.SP.Spid)
		cfg.SP.SpPrivateKeyPemPath = SubstituteEnvVars(cfg.SP.SpPrivateKeyPemPath)
		cfg.SP.IasBaseURL = SubstituteEnvVars(cfg.SP.IasBaseURL)
		cfg.SP.IasRootCertPemPath = SubstituteEnvVars(cfg.SP.IasRootCertPemPath)
		cfg.SP.SigstructPath = SubstituteEnvVars(cfg.SP.SigstructPath)
		cfg.SP.PrimarySubscriptionKey = SubstituteEnvVars(cfg.SP.PrimarySubscriptionKey)
		cfg.SP.AuditDSN = SubstituteEnvVars(cfg.SP.AuditDSN)
		cfg.SP.IdentityDir = SubstituteEnvVars(cfg.SP.IdentityDir)
		cfg.SP.IdentitySealingKeyHex = SubstituteEnvVars(cfg.SP.IdentitySealingKeyHex)
	}

	if cfg.Client != nil {
		cfg.Client.SPAddr = SubstituteEnvVars(cfg.Client.SPAddr)
		cfg.Client.EnclaveAddr = SubstituteEnvVars(cfg.Client.EnclaveAddr)
		cfg.Client.ReportKeyHex = SubstituteEnvVars(cfg.Client.ReportKeyHex)
	}

	if cfg.Enclave != nil {
		cfg.Enclave.SpPublicKeyPemPath = SubstituteEnvVars(cfg.Enclave.SpPublicKeyPemPath)
		cfg.Enclave.ReportKeyHex = SubstituteEnvVars(cfg.Enclave.ReportKeyHex)
	}

	cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
	cfg.Logging.Format = SubstituteEnvVars(cfg.Logging.Format)
	cfg.Logging.Output = SubstituteEnvVars(cfg.Logging.Output)

	cfg.Metrics.Addr = SubstituteEnvVars(cfg.Metrics.Addr)
	cfg.Metrics.Path = SubstituteEnvVars(cfg.Metrics.Path)
}

// GetEnvironment returns the current environment from SGXRA_ENV, falling
// back to ENVIRONMENT, defaulting to "development".
func GetEnvironment() string {
	env := os.Getenv("SGXRA_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in the production environment.
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment returns true if running in the development or local
// environment.
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}
