// Command sgxra-sp runs the Service Provider role of the remote
// attestation protocol: it accepts one connection per attestation session,
// consults IAS, and renders the trust verdict in MSG4.
package main

import (
	"context"
	"crypto/ecdh"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	sgxracrypto "github.com/sgx-ra/sgxra/crypto"
	"github.com/sgx-ra/sgxra/crypto/keys"
	"github.com/sgx-ra/sgxra/crypto/seal"

	"github.com/sgx-ra/sgxra/config"
	"github.com/sgx-ra/sgxra/ias"
	"github.com/sgx-ra/sgxra/internal/logger"
	"github.com/sgx-ra/sgxra/internal/metrics"
	"github.com/sgx-ra/sgxra/internal/stream"
	"github.com/sgx-ra/sgxra/pkg/version"
	"github.com/sgx-ra/sgxra/sigstruct"
	"github.com/sgx-ra/sgxra/sp"
	"github.com/sgx-ra/sgxra/sp/audit"
	auditmemory "github.com/sgx-ra/sgxra/sp/audit/memory"
	auditpostgres "github.com/sgx-ra/sgxra/sp/audit/postgres"
	"github.com/sgx-ra/sgxra/sp/identity"
)

// identityKeyID and auditKeyID are the storage IDs the sp identity manager
// keeps the SP's two long-term keys under.
const (
	identityKeyID = "sp-identity"
	auditKeyID    = "sp-audit"
)

var (
	configDir   string
	environment string
)

var rootCmd = &cobra.Command{
	Use:     "sgxra-sp",
	Short:   "Service Provider for the SGX remote attestation protocol",
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

// identityHolder lets a background rotation goroutine swap in a freshly
// rotated identity key while connection handlers keep reading whichever key
// is current, so a rotation takes effect for new sessions without a restart.
type identityHolder struct {
	mu  sync.RWMutex
	key *keys.P256KeyPair
}

func (h *identityHolder) Get() *keys.P256KeyPair {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.key
}

func (h *identityHolder) Set(key *keys.P256KeyPair) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.key = key
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
	if cfg.SP == nil {
		return fmt.Errorf("configuration has no sp section")
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Addr); err != nil {
				log.Error("metrics server stopped", logger.Error(err))
			}
		}()
	}

	identityMgr, err := buildIdentityManager(cfg.SP, log)
	if err != nil {
		return fmt.Errorf("build identity manager: %w", err)
	}

	spPrivKey, err := loadOrProvisionIdentity(identityMgr, cfg.SP, log)
	if err != nil {
		return fmt.Errorf("load sp identity key: %w", err)
	}
	ident := &identityHolder{key: spPrivKey}

	if cfg.SP.IdentityRotationInterval > 0 {
		identityMgr.GetRotator().SetRotationConfig(sgxracrypto.KeyRotationConfig{
			RotationInterval: cfg.SP.IdentityRotationInterval,
			KeepOldKeys:      true,
		})
		go runIdentityRotation(identityMgr, ident, cfg.SP.IdentityRotationInterval, log)
	}

	auditKey, err := loadOrProvisionAuditKey(identityMgr, log)
	if err != nil {
		return fmt.Errorf("load audit signing key: %w", err)
	}
	auditSigner := audit.NewSigner(auditKey)

	sigstructRaw, err := os.ReadFile(cfg.SP.SigstructPath)
	if err != nil {
		return fmt.Errorf("read sigstruct: %w", err)
	}
	sig, err := sigstruct.Parse(sigstructRaw)
	if err != nil {
		return fmt.Errorf("parse sigstruct: %w", err)
	}

	iasClient, err := buildIASClient(cfg.SP, log)
	if err != nil {
		return err
	}

	auditStore, err := buildAuditStore(cfg.SP.AuditDSN, log)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.SP.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.SP.ListenAddr, err)
	}
	log.Info("sp listening", logger.String("addr", cfg.SP.ListenAddr), logger.String("version", version.Short()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Error("accept", logger.Error(err))
			continue
		}
		go handleConn(conn, cfg.SP.Config, ident, sig, iasClient, auditStore, auditSigner, log)
	}
}

// buildIdentityManager opens the sealed-at-rest file storage the SP's
// long-term keys live in, sealing to (and, if the operator's private half
// is configured, unsealing with) an X25519 key.
func buildIdentityManager(spCfg *config.SPConfig, log logger.Logger) (*identity.Manager, error) {
	dir := spCfg.IdentityDir
	if dir == "" {
		dir = "./data/sp-identity"
	}

	var operatorKey *keys.X25519KeyPair
	if spCfg.IdentitySealingKeyHex != "" {
		raw, err := hex.DecodeString(spCfg.IdentitySealingKeyHex)
		if err != nil {
			return nil, fmt.Errorf("decode identity_sealing_key_hex: %w", err)
		}
		operatorKey, err = keys.NewX25519PrivateKeyFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("parse identity_sealing_key_hex: %w", err)
		}
	} else {
		log.Warn("no identity_sealing_key_hex configured, generating an ephemeral sealing key; sealed keys will not survive a restart")
		var err error
		operatorKey, err = keys.GenerateX25519KeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral sealing key: %w", err)
		}
	}

	recipientPub, ok := operatorKey.PublicKey().(*ecdh.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity sealing key is not an X25519 key")
	}
	sealer := seal.NewSealer(recipientPub)
	unsealer := seal.NewUnsealer(operatorKey)

	store, err := identity.NewFileKeyStorage(dir, sealer, unsealer)
	if err != nil {
		return nil, fmt.Errorf("open identity storage %s: %w", dir, err)
	}
	return identity.NewManager(store), nil
}

// loadOrProvisionIdentity loads the SP's P-256 identity key from identity
// storage, importing it from the legacy plaintext PEM path on first run if
// one is configured, or provisioning a brand new key otherwise.
func loadOrProvisionIdentity(mgr *identity.Manager, spCfg *config.SPConfig, log logger.Logger) (*keys.P256KeyPair, error) {
	key, err := mgr.LoadIdentity(identityKeyID)
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, sgxracrypto.ErrKeyNotFound):
		if spCfg.SpPrivateKeyPemPath != "" {
			pemRaw, err := os.ReadFile(spCfg.SpPrivateKeyPemPath)
			if err != nil {
				return nil, fmt.Errorf("read sp private key: %w", err)
			}
			imported, err := keys.LoadP256PrivateKeyPEM(pemRaw)
			if err != nil {
				return nil, fmt.Errorf("parse sp private key: %w", err)
			}
			if err := mgr.GetStorage().Store(identityKeyID, imported); err != nil {
				return nil, fmt.Errorf("store imported identity key: %w", err)
			}
			log.Info("imported sp identity key from sp_private_key_pem_path into sealed storage")
			return imported, nil
		}
		log.Warn("no sp identity key found in storage, provisioning a fresh one", logger.String("id", identityKeyID))
		return mgr.ProvisionIdentity(identityKeyID)
	default:
		return nil, fmt.Errorf("load sp identity key: %w", err)
	}
}

// loadOrProvisionAuditKey loads the SP's Ed25519 audit-signing key from
// identity storage, provisioning a fresh one on first run.
func loadOrProvisionAuditKey(mgr *identity.Manager, log logger.Logger) (*keys.Ed25519KeyPair, error) {
	key, err := mgr.LoadAuditKey(auditKeyID)
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, sgxracrypto.ErrKeyNotFound):
		log.Warn("no audit signing key found in storage, provisioning a fresh one", logger.String("id", auditKeyID))
		return mgr.ProvisionAuditKey(auditKeyID)
	default:
		return nil, fmt.Errorf("load audit signing key: %w", err)
	}
}

// runIdentityRotation rotates the SP's identity key on the configured
// schedule, installing each new key into ident so sessions accepted after a
// rotation pick it up without a restart.
func runIdentityRotation(mgr *identity.Manager, ident *identityHolder, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		rotated, err := mgr.RotateIdentity(identityKeyID)
		if err != nil {
			log.Error("scheduled identity rotation failed", logger.Error(err))
			continue
		}
		ident.Set(rotated)
		log.Info("rotated sp identity key", logger.String("new_key_id", rotated.ID()))
	}
}

func buildIASClient(spCfg *config.SPConfig, log logger.Logger) (ias.Client, error) {
	if spCfg.IasBaseURL == "" {
		log.Warn("no ias_base_url configured, using a stub IAS client that always reports OK")
		return &ias.StubClient{Report: ias.AttestationReport{IsvEnclaveQuoteStatus: "OK"}}, nil
	}
	var rootCertPEM []byte
	if spCfg.IasRootCertPemPath != "" {
		raw, err := os.ReadFile(spCfg.IasRootCertPemPath)
		if err != nil {
			return nil, fmt.Errorf("read ias root cert: %w", err)
		}
		rootCertPEM = raw
	}
	httpClient, err := ias.NewHTTPClient(spCfg.IasBaseURL, rootCertPEM)
	if err != nil {
		return nil, fmt.Errorf("build ias client: %w", err)
	}
	return httpClient, nil
}

func buildAuditStore(dsn string, log logger.Logger) (audit.Store, error) {
	if dsn == "" {
		log.Info("no audit_dsn configured, using an in-memory audit log")
		return auditmemory.NewStore(), nil
	}
	store, err := auditpostgres.NewStore(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect audit store: %w", err)
	}
	return store, nil
}

func handleConn(conn net.Conn, spConfig sp.Config, ident *identityHolder, sig *sigstruct.SigStruct, iasClient ias.Client, auditStore audit.Store, auditSigner *audit.Signer, log logger.Logger) {
	defer conn.Close()

	raCtx, err := sp.Init(spConfig, ident.Get(), sig, iasClient)
	if err != nil {
		log.Error("init sp context", logger.Error(err), logger.String("remote", conn.RemoteAddr().String()))
		return
	}
	raCtx.SetAudit(auditStore, auditSigner)

	s := stream.NewDefault(conn)
	result, err := raCtx.DoAttestation(context.Background(), s)
	if err != nil {
		log.Warn("attestation session failed", logger.Error(err), logger.String("remote", conn.RemoteAddr().String()))
		return
	}
	log.Info("attestation session trusted",
		logger.String("remote", conn.RemoteAddr().String()),
		logger.Any("epid_pseudonym", result.EpidPseudonym),
	)
}
