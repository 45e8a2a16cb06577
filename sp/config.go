package sp

// Config is the Service Provider's attestation policy and collaborator
// wiring, per the SP Configuration surface. Only linkable EPID quotes,
// IAS-chosen nonces, and the non-platform-service flow are supported; the
// non-goal fields are retained so a config file written for the richer
// original surface still parses, and rejected explicitly at Init.
type Config struct {
	Spid                   string   `yaml:"spid"`
	Linkable               bool     `yaml:"linkable"`
	RandomNonce            bool     `yaml:"random_nonce"`
	UsePlatformService     bool     `yaml:"use_platform_service"`
	SpPrivateKeyPemPath    string   `yaml:"sp_private_key_pem_path"`
	IasRootCertPemPath     string   `yaml:"ias_root_cert_pem_path"`
	SigstructPath          string   `yaml:"sigstruct_path"`
	PrimarySubscriptionKey string   `yaml:"primary_subscription_key"`
	QuoteTrustOptions      []string `yaml:"quote_trust_options"`
	PseTrustOptions        []string `yaml:"pse_trust_options"`

	// DebugBuild mirrors the reference implementation's
	// cfg!(not(debug_assertions)) compile-time switch: when true, the
	// enclave debug-mode check (§4.6 step 5) is skipped. Defaults to
	// false (release behavior) unless a deployment explicitly opts in
	// for local development.
	DebugBuild bool `yaml:"debug_build"`
}
