// Package sigstruct parses the SIGSTRUCT (ENCLAVE_CSS) file the SP loads at
// init time to know the enclave identity it expects to see in a quote.
// Only the five fields the protocol checks are exposed; the signature,
// modulus exponent, and header fields are opaque to this protocol (real
// SIGSTRUCT signature verification belongs to the platform loader, not RA).
package sigstruct

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Size is the fixed SIGSTRUCT (ENCLAVE_CSS) file size.
const Size = 1808

const (
	modulusOffset       = 128
	modulusSize         = 384
	attributesOffset    = 928
	attributesFlagsSize = 8
	enclaveHashOffset   = 960
	enclaveHashSize     = 32
	isvProdIDOffset     = 1024
	isvSvnOffset        = 1026
)

// SigStruct holds the fields process_msg_3's enclave-identity check
// compares against the quote.
type SigStruct struct {
	EnclaveHash [32]byte
	Modulus     [384]byte
	IsvProdID   uint16
	IsvSvn      uint16
	Flags       uint64
}

// Parse reads a raw SIGSTRUCT buffer and extracts the fields the SP
// verifies a quote against.
func Parse(data []byte) (*SigStruct, error) {
	if len(data) != Size {
		return nil, fmt.Errorf("sigstruct: expected %d bytes, got %d", Size, len(data))
	}
	s := &SigStruct{}
	copy(s.Modulus[:], data[modulusOffset:modulusOffset+modulusSize])
	copy(s.EnclaveHash[:], data[enclaveHashOffset:enclaveHashOffset+enclaveHashSize])
	s.IsvProdID = binary.LittleEndian.Uint16(data[isvProdIDOffset : isvProdIDOffset+2])
	s.IsvSvn = binary.LittleEndian.Uint16(data[isvSvnOffset : isvSvnOffset+2])
	s.Flags = binary.LittleEndian.Uint64(data[attributesOffset : attributesOffset+attributesFlagsSize])
	return s, nil
}

// ModulusHash returns SHA-256(modulus), compared against quote[176:208)
// (MRSIGNER) by the enclave-identity check.
func (s *SigStruct) ModulusHash() [32]byte {
	return sha256.Sum256(s.Modulus[:])
}
