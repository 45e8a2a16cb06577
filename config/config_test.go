package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgx-ra/sgxra/sp"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFromFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sp.yaml", `
environment: staging
sp:
  listen_addr: "0.0.0.0:7766"
  spid: "00112233445566778899aabbccddeeff"
  linkable: true
  primary_subscription_key: "abc123"
logging:
  level: debug
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "staging", cfg.Environment)
	require.NotNil(t, cfg.SP)
	require.Equal(t, "0.0.0.0:7766", cfg.SP.ListenAddr)
	require.True(t, cfg.SP.Linkable)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")

	cfg := &Config{
		Environment: "production",
		SP: &SPConfig{
			ListenAddr: "0.0.0.0:7766",
			Config:     sp.Config{Spid: "ff", Linkable: true},
		},
	}
	require.NoError(t, SaveToFile(cfg, path))

	got, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "production", got.Environment)
	require.Equal(t, "ff", got.SP.Spid)
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{SP: &SPConfig{}, Client: &ClientConfig{}, Enclave: &EnclaveConfig{}}
	setDefaults(cfg)

	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, "0.0.0.0:7766", cfg.SP.ListenAddr)
	require.Equal(t, "127.0.0.1:7766", cfg.Client.SPAddr)
	require.Equal(t, "127.0.0.1:7767", cfg.Client.EnclaveAddr)
	require.Equal(t, "0.0.0.0:7767", cfg.Enclave.ListenAddr)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestValidateConfiguration_RejectsUnsupportedModes(t *testing.T) {
	cfg := &Config{
		SP: &SPConfig{
			Config: sp.Config{
				Linkable:               false,
				RandomNonce:            true,
				UsePlatformService:     true,
				Spid:                   "aa",
				SpPrivateKeyPemPath:    "key.pem",
				SigstructPath:          "sig.bin",
				PrimarySubscriptionKey: "k",
			},
		},
	}

	issues := ValidateConfiguration(cfg)
	fields := make(map[string]string)
	for _, i := range issues {
		fields[i.Field] = i.Level
	}
	require.Equal(t, "error", fields["sp.linkable"])
	require.Equal(t, "error", fields["sp.random_nonce"])
	require.Equal(t, "error", fields["sp.use_platform_service"])
}

func TestValidateConfiguration_RequiresCorePaths(t *testing.T) {
	cfg := &Config{SP: &SPConfig{Config: sp.Config{Linkable: true}}}
	issues := ValidateConfiguration(cfg)

	var sawSpid, sawKey, sawSig bool
	for _, i := range issues {
		switch i.Field {
		case "sp.spid":
			sawSpid = true
		case "sp.sp_private_key_pem_path":
			sawKey = true
		case "sp.sigstruct_path":
			sawSig = true
		}
	}
	require.True(t, sawSpid)
	require.True(t, sawKey)
	require.True(t, sawSig)
}
