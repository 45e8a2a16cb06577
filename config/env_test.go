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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgx-ra/sgxra/sp"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("SGXRA_TEST_VAR", "hello")

	require.Equal(t, "hello", SubstituteEnvVars("${SGXRA_TEST_VAR}"))
	require.Equal(t, "fallback", SubstituteEnvVars("${SGXRA_UNSET_VAR:fallback}"))
	require.Equal(t, "", SubstituteEnvVars("${SGXRA_UNSET_VAR}"))
	require.Equal(t, "prefix-hello-suffix", SubstituteEnvVars("prefix-${SGXRA_TEST_VAR}-suffix"))
}

func TestSubstituteEnvVarsInConfig(t *testing.T) {
	t.Setenv("SGXRA_TEST_SPID", "deadbeef")

	cfg := &Config{
		SP: &SPConfig{Config: sp.Config{Spid: "${SGXRA_TEST_SPID}"}},
	}
	SubstituteEnvVarsInConfig(cfg)
	require.Equal(t, "deadbeef", cfg.SP.Spid)
}

func TestSubstituteEnvVarsInConfig_Nil(t *testing.T) {
	require.NotPanics(t, func() { SubstituteEnvVarsInConfig(nil) })
}

func TestGetEnvironment(t *testing.T) {
	t.Setenv("SGXRA_ENV", "")
	t.Setenv("ENVIRONMENT", "")
	require.Equal(t, "development", GetEnvironment())

	t.Setenv("ENVIRONMENT", "Production")
	require.Equal(t, "production", GetEnvironment())

	t.Setenv("SGXRA_ENV", "Staging")
	require.Equal(t, "staging", GetEnvironment())
}

func TestIsProductionIsDevelopment(t *testing.T) {
	t.Setenv("SGXRA_ENV", "production")
	t.Setenv("ENVIRONMENT", "")
	require.True(t, IsProduction())
	require.False(t, IsDevelopment())

	t.Setenv("SGXRA_ENV", "local")
	require.False(t, IsProduction())
	require.True(t, IsDevelopment())
}
