package sigstruct

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildFixture(t *testing.T) []byte {
	t.Helper()
	data := make([]byte, Size)
	for i := range data[modulusOffset : modulusOffset+modulusSize] {
		data[modulusOffset+i] = byte(i)
	}
	for i := 0; i < enclaveHashSize; i++ {
		data[enclaveHashOffset+i] = byte(0xa0 + i)
	}
	binary.LittleEndian.PutUint16(data[isvProdIDOffset:], 7)
	binary.LittleEndian.PutUint16(data[isvSvnOffset:], 3)
	binary.LittleEndian.PutUint64(data[attributesOffset:], 0x0000000000000005)
	return data
}

func TestParse(t *testing.T) {
	data := buildFixture(t)
	s, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, uint16(7), s.IsvProdID)
	require.Equal(t, uint16(3), s.IsvSvn)
	require.Equal(t, uint64(5), s.Flags)
	require.Equal(t, byte(0xa0), s.EnclaveHash[0])
	require.Equal(t, byte(0), s.Modulus[0])
	require.Equal(t, byte(1), s.Modulus[1])
}

func TestParse_WrongSize(t *testing.T) {
	_, err := Parse(make([]byte, 10))
	require.Error(t, err)
}

func TestModulusHash(t *testing.T) {
	data := buildFixture(t)
	s, err := Parse(data)
	require.NoError(t, err)
	want := sha256.Sum256(s.Modulus[:])
	require.Equal(t, want, s.ModulusHash())
}
