package crypto

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	encoded := FormatAddress(addr)
	require.True(t, strings.HasPrefix(encoded, "rb1"))

	parsed, err := ParseAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, addr, parsed)

	parsed, err = ParseAddress(addr.Hex())
	require.NoError(t, err)
	require.Equal(t, addr, parsed)
}

func TestParseAddressRejects(t *testing.T) {
	for _, raw := range []string{"", "0x1234", "0x0000000000000000000000000000000000000000", "rb1notvalid"} {
		_, err := ParseAddress(raw)
		require.ErrorIs(t, err, ErrInvalidAddress, raw)
	}
	other, err := Bech32("nhb", common.HexToAddress("0x01"))
	require.NoError(t, err)
	_, err = ParseAddress(other)
	require.ErrorIs(t, err, ErrInvalidAddress)
}
