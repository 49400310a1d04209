package crypto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
)

// AddressPrefix is the human-readable part of a bech32 address.
type AddressPrefix string

const RatebookPrefix AddressPrefix = "rb"

var ErrInvalidAddress = errors.New("crypto: invalid address")

// Bech32 encodes addr with prefix.
func Bech32(prefix AddressPrefix, addr common.Address) (string, error) {
	conv, err := bech32.ConvertBits(addr.Bytes(), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(string(prefix), conv)
}

// FormatAddress renders addr as a bech32 string with the ratebook prefix.
func FormatAddress(addr common.Address) string {
	encoded, err := Bech32(RatebookPrefix, addr)
	if err != nil {
		// ConvertBits cannot fail on a 20 byte input.
		return addr.Hex()
	}
	return encoded
}

// ParseAddress accepts a 0x-prefixed hex address or a bech32 address carrying
// the ratebook prefix. The zero address is rejected.
func ParseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	var addr common.Address
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		if !common.IsHexAddress(raw) {
			return common.Address{}, fmt.Errorf("%w: %s", ErrInvalidAddress, raw)
		}
		addr = common.HexToAddress(raw)
	} else {
		prefix, decoded, err := bech32.Decode(raw)
		if err != nil {
			return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		if AddressPrefix(prefix) != RatebookPrefix {
			return common.Address{}, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidAddress, prefix)
		}
		conv, err := bech32.ConvertBits(decoded, 5, 8, false)
		if err != nil {
			return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		if len(conv) != common.AddressLength {
			return common.Address{}, fmt.Errorf("%w: %d bytes", ErrInvalidAddress, len(conv))
		}
		addr = common.BytesToAddress(conv)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	return addr, nil
}
