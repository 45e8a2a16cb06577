// Command sgxra-client runs the Client role of the remote attestation
// protocol: it relays messages between the Enclave and the Service
// Provider and drives the local AESM/QE quote-generation dance.
package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/sgx-ra/sgxra/aesm"
	"github.com/sgx-ra/sgxra/client"
	"github.com/sgx-ra/sgxra/config"
	"github.com/sgx-ra/sgxra/internal/logger"
	"github.com/sgx-ra/sgxra/internal/metrics"
	"github.com/sgx-ra/sgxra/internal/stream"
	"github.com/sgx-ra/sgxra/pkg/version"
)

var (
	configDir   string
	environment string
)

var rootCmd = &cobra.Command{
	Use:     "sgxra-client",
	Short:   "AESM-host client for the SGX remote attestation protocol",
	Version: version.Short(),
	RunE:    run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVar(&configDir, "config-dir", "", "directory to search for environment/default config files")
	rootCmd.Flags().StringVar(&environment, "env", "", "environment name (overrides SGXRA_ENV)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logger.NewDefaultLogger()

	opts := config.DefaultLoaderOptions()
	if configDir != "" {
		opts.ConfigDir = configDir
	}
	if environment != "" {
		opts.Environment = environment
	}
	cfg, err := config.Load(opts)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Client == nil {
		return fmt.Errorf("configuration has no client section")
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Addr); err != nil {
				log.Error("metrics server stopped", logger.Error(err))
			}
		}()
	}

	reportKey, err := decodeReportKey(cfg.Client.ReportKeyHex)
	if err != nil {
		return fmt.Errorf("decode report key: %w", err)
	}
	aesmClient := aesm.NewSimulator(cfg.Client.Identity, reportKey)

	raCtx, err := client.Init(aesmClient)
	if err != nil {
		return fmt.Errorf("init client context: %w", err)
	}

	enclaveConn, err := net.Dial("tcp", cfg.Client.EnclaveAddr)
	if err != nil {
		return fmt.Errorf("dial enclave %s: %w", cfg.Client.EnclaveAddr, err)
	}
	defer enclaveConn.Close()

	spConn, err := net.Dial("tcp", cfg.Client.SPAddr)
	if err != nil {
		return fmt.Errorf("dial sp %s: %w", cfg.Client.SPAddr, err)
	}
	defer spConn.Close()

	enclaveStream := stream.NewDefault(enclaveConn)
	spStream := stream.NewDefault(spConn)

	if err := raCtx.DoAttestation(enclaveStream, spStream); err != nil {
		return fmt.Errorf("attestation failed: %w", err)
	}
	log.Info("attestation succeeded", logger.String("version", version.Short()))
	return nil
}

func decodeReportKey(hexKey string) ([16]byte, error) {
	var key [16]byte
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return key, err
	}
	if len(raw) != 16 {
		return key, hex.ErrLength
	}
	copy(key[:], raw)
	return key, nil
}
