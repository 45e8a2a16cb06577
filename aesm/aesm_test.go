package aesm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgx-ra/sgxra/localattest"
	"github.com/sgx-ra/sgxra/wire"
)

func testIdentity() Identity {
	var id Identity
	id.MrEnclave[0] = 0xaa
	id.MrSigner[0] = 0xbb
	id.IsvProdID = 7
	id.IsvSvn = 3
	id.Debug = true
	return id
}

func TestSimulator_InitQuote(t *testing.T) {
	sim := NewSimulator(testIdentity(), [16]byte{1, 2, 3})

	info, err := sim.InitQuote()
	require.NoError(t, err)
	require.Equal(t, sim.Gid, info.Gid)
	require.Equal(t, sim.Targetinfo, info.Targetinfo)
}

func TestSimulator_InitQuote_DeterministicFromIdentity(t *testing.T) {
	id := testIdentity()
	simA := NewSimulator(id, [16]byte{1})
	simB := NewSimulator(id, [16]byte{2})

	infoA, err := simA.InitQuote()
	require.NoError(t, err)
	infoB, err := simB.InitQuote()
	require.NoError(t, err)

	require.Equal(t, infoA.Gid, infoB.Gid, "gid is derived from identity, not the report key")
	require.Equal(t, infoA.Targetinfo, infoB.Targetinfo)
}

func TestSimulator_GetQuote_EmbedsIdentityAndReportData(t *testing.T) {
	reportKey := [16]byte{0x10, 0x20, 0x30}
	id := testIdentity()
	sim := NewSimulator(id, reportKey)

	info, err := sim.InitQuote()
	require.NoError(t, err)

	var report localattest.Report
	digest := localattest.BindingDigest([]byte("ga"), []byte("gb"), []byte("vk"))
	copy(report.ReportData()[:32], digest[:])

	var spid wire.Spid
	quote, qeReport, err := sim.GetQuote(info, report, spid, nil)
	require.NoError(t, err)

	require.Equal(t, id.MrEnclave[:], quote.MrEnclave())
	require.Equal(t, id.MrSigner[:], quote.MrSigner())
	require.Equal(t, id.IsvProdID, quote.IsvProdID())
	require.Equal(t, id.IsvSvn, quote.IsvSvn())
	require.True(t, quote.IsDebug())
	require.Equal(t, report.ReportData()[:32], quote.ReportDataBinding())

	require.NoError(t, localattest.VerifyReport(qeReport, reportKey[:]))
}
