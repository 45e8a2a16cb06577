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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_FallsBackToEmptyConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "test"})
	require.NoError(t, err)
	require.Equal(t, "test", cfg.Environment)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_PrefersEnvironmentSpecificFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "staging.yaml", "environment: staging\nsp:\n  spid: \"aa\"\n  linkable: true\n  sp_private_key_pem_path: \"sp.pem\"\n  sigstruct_path: \"enclave.sig\"\n")
	writeFile(t, dir, "default.yaml", "environment: default\nsp:\n  spid: \"bb\"\n")

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "staging"})
	require.NoError(t, err)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, "aa", cfg.SP.Spid)
}

func TestLoad_FallsBackToDefaultYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "default.yaml", "environment: fromdefault\n")

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "nonexistent"})
	require.NoError(t, err)
	require.Equal(t, "fromdefault", cfg.Environment)
}

func TestLoad_ValidationFailureSurfacesError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "test.yaml", "environment: test\nsp:\n  linkable: false\n")

	_, err := Load(LoaderOptions{ConfigDir: dir, Environment: "test"})
	require.Error(t, err)
}

func TestLoad_SkipValidation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "test.yaml", "environment: test\nsp:\n  linkable: false\n")

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "test", SkipValidation: true})
	require.NoError(t, err)
	require.False(t, cfg.SP.Linkable)
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	t.Setenv("SGXRA_SPID", "fromenv")
	t.Setenv("SGXRA_LOG_LEVEL", "debug")

	dir := t.TempDir()
	writeFile(t, dir, "test.yaml", "environment: test\nsp:\n  spid: \"original\"\n  linkable: true\n  sp_private_key_pem_path: \"sp.pem\"\n  sigstruct_path: \"enclave.sig\"\n")

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "test"})
	require.NoError(t, err)
	require.Equal(t, "fromenv", cfg.SP.Spid)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestMustLoad_PanicsOnError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "test.yaml", "environment: test\nsp:\n  linkable: false\n")

	require.Panics(t, func() {
		MustLoad(LoaderOptions{ConfigDir: dir, Environment: "test"})
	})
}

func TestLoadForEnvironment(t *testing.T) {
	dir, err := os.Getwd()
	require.NoError(t, err)
	_ = filepath.Join(dir, "config")

	cfg, err := LoadForEnvironment("test")
	require.NoError(t, err)
	require.Equal(t, "test", cfg.Environment)
}
