// Package wire implements the canonical byte-exact encoding of the
// attestation protocol's five messages (RaMsg0..RaMsg4). Fixed-width
// fields are emitted raw in declared order; optional fields are prefixed
// with a single 0x00/0x01 tag byte; variable-length blobs are prefixed
// with an 8-byte little-endian length.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	GidSize           = 4
	SpidSize          = 16
	DHKEPublicKeySize = 64
	SignatureSize     = 64
	MacTagSize        = 16
	QuoteSize         = 432
	PsSecPropSize     = 256
	PibSize           = 256
)

type Gid [GidSize]byte
type Spid [SpidSize]byte
type DHKEPublicKey [DHKEPublicKeySize]byte
type Signature [SignatureSize]byte
type MacTag [MacTagSize]byte
type Quote [QuoteSize]byte

// Quote byte offsets the protocol reads, per the SGX linkable quote layout.
const (
	QuoteMrEnclaveOffset   = 112
	QuoteMrEnclaveLen      = 32
	QuoteMrSignerOffset    = 176
	QuoteMrSignerLen       = 32
	QuoteIsvProdIDOffset   = 304
	QuoteIsvSvnOffset      = 306
	QuoteReportDataOffset  = 368
	QuoteReportDataBindLen = 32
	QuoteAttributesOffset  = 96
	QuoteAttributesFlagsOffset = QuoteAttributesOffset
	QuoteDebugFlagBit      = 0x02
)

func (q *Quote) MrEnclave() []byte {
	return q[QuoteMrEnclaveOffset : QuoteMrEnclaveOffset+QuoteMrEnclaveLen]
}

func (q *Quote) MrSigner() []byte {
	return q[QuoteMrSignerOffset : QuoteMrSignerOffset+QuoteMrSignerLen]
}

func (q *Quote) IsvProdID() uint16 {
	return binary.LittleEndian.Uint16(q[QuoteIsvProdIDOffset : QuoteIsvProdIDOffset+2])
}

func (q *Quote) IsvSvn() uint16 {
	return binary.LittleEndian.Uint16(q[QuoteIsvSvnOffset : QuoteIsvSvnOffset+2])
}

func (q *Quote) ReportDataBinding() []byte {
	return q[QuoteReportDataOffset : QuoteReportDataOffset+QuoteReportDataBindLen]
}

// AttributesFlags returns the 8-byte little-endian ATTRIBUTES.FLAGS field.
func (q *Quote) AttributesFlags() uint64 {
	return binary.LittleEndian.Uint64(q[QuoteAttributesFlagsOffset : QuoteAttributesFlagsOffset+8])
}

func (q *Quote) IsDebug() bool {
	return q.AttributesFlags()&QuoteDebugFlagBit != 0
}

// RaMsg0 is Client -> SP: fixed exgid = 0.
type RaMsg0 struct {
	Exgid uint32
}

func (m RaMsg0) Encode() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, m.Exgid)
	return buf
}

func DecodeRaMsg0(data []byte) (RaMsg0, error) {
	if len(data) != 4 {
		return RaMsg0{}, fmt.Errorf("wire: RaMsg0 expects 4 bytes, got %d", len(data))
	}
	return RaMsg0{Exgid: binary.LittleEndian.Uint32(data)}, nil
}

// RaMsg1 is Client -> SP.
type RaMsg1 struct {
	Gid Gid
	Ga  DHKEPublicKey
}

func (m RaMsg1) Encode() []byte {
	buf := make([]byte, 0, GidSize+DHKEPublicKeySize)
	buf = append(buf, m.Gid[:]...)
	buf = append(buf, m.Ga[:]...)
	return buf
}

func DecodeRaMsg1(data []byte) (RaMsg1, error) {
	want := GidSize + DHKEPublicKeySize
	if len(data) != want {
		return RaMsg1{}, fmt.Errorf("wire: RaMsg1 expects %d bytes, got %d", want, len(data))
	}
	var m RaMsg1
	copy(m.Gid[:], data[0:GidSize])
	copy(m.Ga[:], data[GidSize:GidSize+DHKEPublicKeySize])
	return m, nil
}

// RaMsg2 is SP -> Client.
type RaMsg2 struct {
	Gb        DHKEPublicKey
	Spid      Spid
	QuoteType uint16 // always 1 (linkable)
	KdfID     uint16 // always 1 (AES-CMAC)
	SignGbGa  Signature
	Mac       MacTag
	SigRl     []byte // optional variable-length blob
}

// MacBody returns the canonical bytes MSG2.mac is computed over: all
// fields after `mac` is excluded, in declaration order up to and including
// sig_rl, per §4.5 step 3 (g_b‖spid‖quote_type‖kdf_id‖sign_gb_ga‖sig_rl).
func (m RaMsg2) MacBody() []byte {
	buf := make([]byte, 0, DHKEPublicKeySize+SpidSize+4+SignatureSize+len(m.SigRl))
	buf = append(buf, m.Gb[:]...)
	buf = append(buf, m.Spid[:]...)
	buf = appendUint16LE(buf, m.QuoteType)
	buf = appendUint16LE(buf, m.KdfID)
	buf = append(buf, m.SignGbGa[:]...)
	buf = append(buf, m.SigRl...)
	return buf
}

func (m RaMsg2) Encode() []byte {
	buf := make([]byte, 0, DHKEPublicKeySize+SpidSize+4+SignatureSize+MacTagSize+8+len(m.SigRl))
	buf = append(buf, m.Gb[:]...)
	buf = append(buf, m.Spid[:]...)
	buf = appendUint16LE(buf, m.QuoteType)
	buf = appendUint16LE(buf, m.KdfID)
	buf = append(buf, m.SignGbGa[:]...)
	buf = append(buf, m.Mac[:]...)
	buf = appendLengthPrefixed(buf, m.SigRl)
	return buf
}

func DecodeRaMsg2(data []byte) (RaMsg2, error) {
	r := bytes.NewReader(data)
	var m RaMsg2
	if err := readFull(r, m.Gb[:]); err != nil {
		return m, fmt.Errorf("wire: RaMsg2.gb: %w", err)
	}
	if err := readFull(r, m.Spid[:]); err != nil {
		return m, fmt.Errorf("wire: RaMsg2.spid: %w", err)
	}
	var err error
	if m.QuoteType, err = readUint16LE(r); err != nil {
		return m, fmt.Errorf("wire: RaMsg2.quote_type: %w", err)
	}
	if m.KdfID, err = readUint16LE(r); err != nil {
		return m, fmt.Errorf("wire: RaMsg2.kdf_id: %w", err)
	}
	if err := readFull(r, m.SignGbGa[:]); err != nil {
		return m, fmt.Errorf("wire: RaMsg2.sign_gb_ga: %w", err)
	}
	if err := readFull(r, m.Mac[:]); err != nil {
		return m, fmt.Errorf("wire: RaMsg2.mac: %w", err)
	}
	if m.SigRl, err = readLengthPrefixed(r); err != nil {
		return m, fmt.Errorf("wire: RaMsg2.sig_rl: %w", err)
	}
	if r.Len() != 0 {
		return m, fmt.Errorf("wire: RaMsg2 has %d trailing bytes", r.Len())
	}
	return m, nil
}

// RaMsg3 is Client -> SP.
type RaMsg3 struct {
	Mac          MacTag
	Ga           DHKEPublicKey // redundant, must equal MSG1.ga
	PsSecProp    *[PsSecPropSize]byte
	Quote        Quote
}

// MacBody returns the canonical bytes MSG3.mac is computed over: the
// ps_sec_prop presence tag followed by the quote, per §4.5 step 6
// (ga is excluded -- it travels openly and is checked by value, not MAC'd).
func (m RaMsg3) MacBody() []byte {
	buf := make([]byte, 0, 1+PsSecPropSize+QuoteSize)
	if m.PsSecProp == nil {
		buf = append(buf, 0x00)
	} else {
		buf = append(buf, 0x01)
		buf = append(buf, m.PsSecProp[:]...)
	}
	buf = append(buf, m.Quote[:]...)
	return buf
}

func (m RaMsg3) Encode() []byte {
	buf := make([]byte, 0, MacTagSize+DHKEPublicKeySize+1+PsSecPropSize+QuoteSize)
	buf = append(buf, m.Mac[:]...)
	buf = append(buf, m.Ga[:]...)
	if m.PsSecProp == nil {
		buf = append(buf, 0x00)
	} else {
		buf = append(buf, 0x01)
		buf = append(buf, m.PsSecProp[:]...)
	}
	buf = append(buf, m.Quote[:]...)
	return buf
}

func DecodeRaMsg3(data []byte) (RaMsg3, error) {
	r := bytes.NewReader(data)
	var m RaMsg3
	if err := readFull(r, m.Mac[:]); err != nil {
		return m, fmt.Errorf("wire: RaMsg3.mac: %w", err)
	}
	if err := readFull(r, m.Ga[:]); err != nil {
		return m, fmt.Errorf("wire: RaMsg3.ga: %w", err)
	}
	tag, err := readByte(r)
	if err != nil {
		return m, fmt.Errorf("wire: RaMsg3.ps_sec_prop tag: %w", err)
	}
	switch tag {
	case 0x00:
		m.PsSecProp = nil
	case 0x01:
		var v [PsSecPropSize]byte
		if err := readFull(r, v[:]); err != nil {
			return m, fmt.Errorf("wire: RaMsg3.ps_sec_prop: %w", err)
		}
		m.PsSecProp = &v
	default:
		return m, fmt.Errorf("wire: RaMsg3.ps_sec_prop invalid tag 0x%02x", tag)
	}
	if err := readFull(r, m.Quote[:]); err != nil {
		return m, fmt.Errorf("wire: RaMsg3.quote: %w", err)
	}
	if r.Len() != 0 {
		return m, fmt.Errorf("wire: RaMsg3 has %d trailing bytes", r.Len())
	}
	return m, nil
}

// RaMsg4 is SP -> Client -> Enclave.
type RaMsg4 struct {
	IsEnclaveTrusted     bool
	IsPseManifestTrusted *bool
	Pib                  *[PibSize]byte
}

func (m RaMsg4) Encode() []byte {
	buf := make([]byte, 0, 1+1+1+1+PibSize)
	buf = appendBool(buf, m.IsEnclaveTrusted)
	buf = appendOptionalBool(buf, m.IsPseManifestTrusted)
	if m.Pib == nil {
		buf = append(buf, 0x00)
	} else {
		buf = append(buf, 0x01)
		buf = append(buf, m.Pib[:]...)
	}
	return buf
}

func DecodeRaMsg4(data []byte) (RaMsg4, error) {
	r := bytes.NewReader(data)
	var m RaMsg4
	b, err := readByte(r)
	if err != nil {
		return m, fmt.Errorf("wire: RaMsg4.is_enclave_trusted: %w", err)
	}
	m.IsEnclaveTrusted = b != 0

	tag, err := readByte(r)
	if err != nil {
		return m, fmt.Errorf("wire: RaMsg4.is_pse_manifest_trusted tag: %w", err)
	}
	switch tag {
	case 0x00:
		m.IsPseManifestTrusted = nil
	case 0x01:
		b, err := readByte(r)
		if err != nil {
			return m, fmt.Errorf("wire: RaMsg4.is_pse_manifest_trusted: %w", err)
		}
		v := b != 0
		m.IsPseManifestTrusted = &v
	default:
		return m, fmt.Errorf("wire: RaMsg4.is_pse_manifest_trusted invalid tag 0x%02x", tag)
	}

	tag, err = readByte(r)
	if err != nil {
		return m, fmt.Errorf("wire: RaMsg4.pib tag: %w", err)
	}
	switch tag {
	case 0x00:
		m.Pib = nil
	case 0x01:
		var v [PibSize]byte
		if err := readFull(r, v[:]); err != nil {
			return m, fmt.Errorf("wire: RaMsg4.pib: %w", err)
		}
		m.Pib = &v
	default:
		return m, fmt.Errorf("wire: RaMsg4.pib invalid tag 0x%02x", tag)
	}

	if r.Len() != 0 {
		return m, fmt.Errorf("wire: RaMsg4 has %d trailing bytes", r.Len())
	}
	return m, nil
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 0x01)
	}
	return append(buf, 0x00)
}

func appendOptionalBool(buf []byte, v *bool) []byte {
	if v == nil {
		return append(buf, 0x00)
	}
	buf = append(buf, 0x01)
	return appendBool(buf, *v)
}

func appendUint16LE(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendLengthPrefixed(buf, v []byte) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(len(v)))
	buf = append(buf, tmp[:]...)
	return append(buf, v...)
}

func readFull(r *bytes.Reader, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	n, err := r.Read(dst)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return fmt.Errorf("short read: got %d, want %d", n, len(dst))
	}
	return nil
}

func readByte(r *bytes.Reader) (byte, error) {
	return r.ReadByte()
}

func readUint16LE(r *bytes.Reader) (uint16, error) {
	var tmp [2]byte
	if err := readFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(tmp[:]), nil
}

func readLengthPrefixed(r *bytes.Reader) ([]byte, error) {
	var tmp [8]byte
	if err := readFull(r, tmp[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(tmp[:])
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("length prefix %d exceeds remaining %d bytes", n, r.Len())
	}
	out := make([]byte, n)
	if err := readFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
