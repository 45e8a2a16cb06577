package localattest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBindingDigest_Deterministic(t *testing.T) {
	gA := []byte("ga-bytes")
	gB := []byte("gb-bytes")
	vk := []byte("vk-bytes-16-byte")

	d1 := BindingDigest(gA, gB, vk)
	d2 := BindingDigest(gA, gB, vk)
	require.Equal(t, d1, d2)

	d3 := BindingDigest(gB, gA, vk)
	require.NotEqual(t, d1, d3)
}

func TestBuildReportVerifyReport_RoundTrip(t *testing.T) {
	reportKey := []byte("0123456789abcdef")
	var targetinfo Targetinfo

	digest := BindingDigest([]byte("ga"), []byte("gb"), []byte("vk"))

	report, err := BuildReport(targetinfo, digest, reportKey)
	require.NoError(t, err)

	require.NoError(t, VerifyReport(report, reportKey))
	require.Equal(t, digest[:], report.ReportData()[:32])
}

func TestVerifyReport_RejectsTamperedData(t *testing.T) {
	reportKey := []byte("0123456789abcdef")
	var targetinfo Targetinfo
	digest := BindingDigest([]byte("ga"), []byte("gb"), []byte("vk"))

	report, err := BuildReport(targetinfo, digest, reportKey)
	require.NoError(t, err)

	report.ReportData()[0] ^= 0xff
	require.ErrorIs(t, VerifyReport(report, reportKey), ErrLocalAttestation)
}

func TestVerifyReport_RejectsWrongKey(t *testing.T) {
	var targetinfo Targetinfo
	digest := BindingDigest([]byte("ga"), []byte("gb"), []byte("vk"))

	report, err := BuildReport(targetinfo, digest, []byte("0123456789abcdef"))
	require.NoError(t, err)

	require.ErrorIs(t, VerifyReport(report, []byte("fedcba9876543210")), ErrLocalAttestation)
}

func TestReport_ReportDataAndMacOffsets(t *testing.T) {
	var r Report
	require.Len(t, r.ReportData(), ReportDataSize)
	require.Len(t, r.ReportMac(), 16)
}
