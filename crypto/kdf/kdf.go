// Package kdf implements the attestation key-derivation kernel: deriving
// SMK, SK, MK, and VK from a key-derivation key (KDK) via labeled
// AES-128-CMAC, following the counter-mode label idiom used by GlobalPlatform
// KDFs and adapted to the fixed single-block derivation this protocol uses.
package kdf

import (
	"github.com/sgx-ra/sgxra/crypto/cmac"
)

// Labels for the four session subkeys derived from the KDK.
const (
	labelSMK = "SMK"
	labelSK  = "SK"
	labelMK  = "MK"
	labelVK  = "VK"
)

// SecretMaterial holds the four subkeys derived from a session's KDK.
// SMK authenticates MSG2/MSG3, SK/MK are reserved for post-handshake
// application traffic, and VK binds the session transcript into the local
// attestation REPORTDATA.
type SecretMaterial struct {
	SMK [16]byte
	SK  [16]byte
	MK  [16]byte
	VK  [16]byte
}

// Zero overwrites all four subkeys.
func (s *SecretMaterial) Zero() {
	for i := range s.SMK {
		s.SMK[i] = 0
	}
	for i := range s.SK {
		s.SK[i] = 0
	}
	for i := range s.MK {
		s.MK[i] = 0
	}
	for i := range s.VK {
		s.VK[i] = 0
	}
}

// DeriveSecretKeys derives (SMK, SK, MK, VK) from a KDK-keyed CMAC context.
// Each subkey is CMAC(KDK, 0x01‖label‖0x00‖0x80‖0x00); the 0x0080 encodes
// the 128-bit output length in the derivation message, little-endian, per
// the counter-mode label construction.
func DeriveSecretKeys(kdk *cmac.Context) (*SecretMaterial, error) {
	sm := &SecretMaterial{}

	smk, err := derive(kdk, labelSMK)
	if err != nil {
		return nil, err
	}
	copy(sm.SMK[:], smk)

	sk, err := derive(kdk, labelSK)
	if err != nil {
		return nil, err
	}
	copy(sm.SK[:], sk)

	mk, err := derive(kdk, labelMK)
	if err != nil {
		return nil, err
	}
	copy(sm.MK[:], mk)

	vk, err := derive(kdk, labelVK)
	if err != nil {
		return nil, err
	}
	copy(sm.VK[:], vk)

	return sm, nil
}

func derive(kdk *cmac.Context, label string) ([]byte, error) {
	msg := make([]byte, 0, 1+len(label)+3)
	msg = append(msg, 0x01)
	msg = append(msg, []byte(label)...)
	msg = append(msg, 0x00, 0x80, 0x00)
	return kdk.Sign(msg)
}
