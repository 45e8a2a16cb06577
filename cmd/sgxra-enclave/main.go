// Command sgxra-enclave runs the Enclave role of the remote attestation
// protocol: it authenticates the SP's DHKE contribution, binds the
// transcript into a local-attestation quote, and enforces the SP's trust
// verdict once MSG4 arrives via the Client.
package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/sgx-ra/sgxra/config"
	"github.com/sgx-ra/sgxra/enclave"
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
	Use:     "sgxra-enclave",
	Short:   "Enclave side of the SGX remote attestation protocol",
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
	if cfg.Enclave == nil {
		return fmt.Errorf("configuration has no enclave section")
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Addr); err != nil {
				log.Error("metrics server stopped", logger.Error(err))
			}
		}()
	}

	spPubPEM, err := os.ReadFile(cfg.Enclave.SpPublicKeyPemPath)
	if err != nil {
		return fmt.Errorf("read sp public key: %w", err)
	}
	reportKey, err := decodeReportKey(cfg.Enclave.ReportKeyHex)
	if err != nil {
		return fmt.Errorf("decode report key: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Enclave.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Enclave.ListenAddr, err)
	}
	log.Info("enclave listening", logger.String("addr", cfg.Enclave.ListenAddr), logger.String("version", version.Short()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Error("accept", logger.Error(err))
			continue
		}
		go handleConn(conn, spPubPEM, reportKey, log)
	}
}

func handleConn(conn net.Conn, spPubPEM []byte, reportKey [16]byte, log logger.Logger) {
	defer conn.Close()

	raCtx, err := enclave.InitFromPEM(spPubPEM, reportKey)
	if err != nil {
		log.Error("init enclave context", logger.Error(err), logger.String("remote", conn.RemoteAddr().String()))
		return
	}

	s := stream.NewDefault(conn)
	_, _, err = raCtx.DoAttestation(s)
	if err != nil {
		log.Warn("attestation session failed", logger.Error(err), logger.String("remote", conn.RemoteAddr().String()))
		return
	}
	log.Info("attestation session trusted", logger.String("remote", conn.RemoteAddr().String()))
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
