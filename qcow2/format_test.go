package qcow2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHeader() *Header {
	return &Header{
		Magic:                 Magic,
		Version:               Version2,
		ClusterBits:           16,
		Size:                  64 << 20,
		CryptMethod:           EncryptionNone,
		L1Size:                1,
		L1TableOffset:         2 << 16,
		RefcountTableOffset:   1 << 16,
		RefcountTableClusters: 1,
	}
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := sampleHeader()
	decoded, err := DecodeHeader(h.Encode())
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	_, err := DecodeHeader(make([]byte, 10))
	require.Error(t, err)
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	h := sampleHeader()
	buf := h.Encode()
	buf[0] = 0

	_, err := DecodeHeader(buf)
	require.Error(t, err)
}

func TestDecodeHeaderRejectsBadClusterBits(t *testing.T) {
	h := sampleHeader()
	h.ClusterBits = 3
	buf := h.Encode()

	_, err := DecodeHeader(buf)
	require.Error(t, err)
}

func TestHeaderValidateAcceptsPlainV2(t *testing.T) {
	h := sampleHeader()
	assert.NoError(t, h.Validate())
}

func TestHeaderValidateRejectsV3(t *testing.T) {
	h := sampleHeader()
	h.Version = Version3
	assert.Error(t, h.Validate())
}

func TestHeaderValidateRejectsBackingFile(t *testing.T) {
	h := sampleHeader()
	h.BackingFileOffset = 1 << 20
	h.BackingFileSize = 10
	assert.ErrorIs(t, h.Validate(), ErrBackingFile)
}

func TestHeaderValidateRejectsEncryption(t *testing.T) {
	h := sampleHeader()
	h.CryptMethod = EncryptionAES
	assert.ErrorIs(t, h.Validate(), ErrEncryptedImage)
}

func TestHeaderValidateRejectsMisalignedMetadata(t *testing.T) {
	h := sampleHeader()
	h.L1TableOffset = 100
	assert.Error(t, h.Validate())
}

func TestClusterSizeAndL2Entries(t *testing.T) {
	h := sampleHeader()
	assert.Equal(t, uint64(1<<16), h.ClusterSize())
	assert.Equal(t, uint64(1<<16)/8, h.L2Entries())
}
