// Package localattest implements the TARGETINFO/REPORT exchange between the
// Client, the Enclave, and the Quoting Enclave (QE) that binds a quote's
// REPORTDATA to the DHKE transcript (§4.3). Real SGX hardware derives the
// platform report key via the EGETKEY instruction and authenticates REPORT
// with a CMAC under that key; this software implementation models the same
// MAC-based local-attestation check against a platform report key shared
// between the enclave and the QE collaborator (see aesm.Simulator), which
// is the only way to exercise this protocol step outside real hardware.
package localattest

import (
	"crypto/sha256"
	"fmt"

	"github.com/sgx-ra/sgxra/crypto/cmac"
)

const (
	TargetinfoSize = 512
	ReportSize     = 432

	// ReportDataOffset/Size mirror the REPORT structure's trailing
	// REPORTDATA field, which is where the binding digest lives -- the
	// same offset a QUOTE's embedded report body uses (see wire.Quote).
	ReportDataOffset = 368
	ReportDataSize   = 64

	reportMacTagSize = 16
	reportMacOffset  = ReportDataOffset - reportMacTagSize
)

// Targetinfo is an opaque 512-byte blob identifying the Quoting Enclave,
// produced by AESM's init_quote and forwarded verbatim from Client to
// Enclave.
type Targetinfo [TargetinfoSize]byte

// Report is the 432-byte local-attestation REPORT the enclave constructs
// for the QE. Only REPORTDATA is structurally interpreted by this
// protocol; the remaining fields are opaque measurement/target metadata
// supplied by the caller.
type Report [ReportSize]byte

// ReportData returns the 64-byte REPORTDATA field.
func (r *Report) ReportData() []byte {
	return r[ReportDataOffset : ReportDataOffset+ReportDataSize]
}

// ReportMac returns the 16-byte CMAC tag immediately preceding REPORTDATA,
// computed under the platform report key the QE and enclave share.
func (r *Report) ReportMac() []byte {
	return r[reportMacOffset:ReportDataOffset]
}

// BindingDigest computes SHA-256(gA ‖ gB ‖ vk), the sole cryptographic
// link between the DHKE transcript and the enclave measurement
// (Invariant 4).
func BindingDigest(gA, gB, vk []byte) [32]byte {
	h := sha256.New()
	h.Write(gA)
	h.Write(gB)
	h.Write(vk)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// BuildReport constructs a REPORT targeted at the QE (identified by
// targetinfo) whose REPORTDATA's first 32 bytes are the binding digest,
// zero-padded to 64 bytes, and whose preceding MAC is computed under
// reportKey -- the key the enclave and QE both derive for this target.
func BuildReport(targetinfo Targetinfo, bindingDigest [32]byte, reportKey []byte) (Report, error) {
	var r Report
	_ = targetinfo // targeting metadata only; not structurally interpreted here
	copy(r.ReportData()[:32], bindingDigest[:])
	mac, err := cmac.Sum(reportKey, r.ReportData())
	if err != nil {
		return r, fmt.Errorf("localattest: mac report: %w", err)
	}
	copy(r.ReportMac(), mac)
	return r, nil
}

// VerifyReport checks a REPORT's MAC under reportKey, failing with
// *LocalAttestation per §4.3 step 5 on mismatch.
func VerifyReport(r Report, reportKey []byte) error {
	ok, err := cmac.Verify(reportKey, r.ReportData(), r.ReportMac())
	if err != nil {
		return fmt.Errorf("localattest: %w", err)
	}
	if !ok {
		return ErrLocalAttestation
	}
	return nil
}

// ErrLocalAttestation is returned when a QE report's MAC does not verify.
var ErrLocalAttestation = fmt.Errorf("localattest: QE report MAC check failed")
