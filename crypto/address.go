package crypto

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part used for bech32 rendering.
type AddressPrefix string

const (
	// LendPrefix is used for every account and market address.
	LendPrefix AddressPrefix = "lend"

	// AddressLength is the byte length of an address.
	AddressLength = 20
)

// Address is a 20-byte account identifier. It is comparable and therefore
// usable as a map key.
type Address [AddressLength]byte

// ZeroAddress is the empty address.
var ZeroAddress Address

// BytesToAddress copies b into an address. Longer inputs keep their last 20
// bytes, shorter inputs are left padded.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// DeriveAddress hashes the supplied parts with keccak256 and keeps the last 20
// bytes, mirroring contract address derivation.
func DeriveAddress(parts ...[]byte) Address {
	return BytesToAddress(ethcrypto.Keccak256(parts...))
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Hex renders the EIP-55 checksummed hex form.
func (a Address) Hex() string {
	return common.Address(a).Hex()
}

// String renders the bech32 form using LendPrefix.
func (a Address) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(LendPrefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Compare orders addresses bytewise.
func (a Address) Compare(other Address) int {
	return bytes.Compare(a[:], other[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// DecodeAddress parses a bech32 address carrying LendPrefix.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if AddressPrefix(prefix) != LendPrefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(conv))
	}
	return BytesToAddress(conv), nil
}

// ParseAddress accepts either the bech32 form or a 0x-prefixed hex string.
func ParseAddress(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Address{}, fmt.Errorf("address required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !common.IsHexAddress(trimmed) {
			return Address{}, fmt.Errorf("invalid hex address %q", trimmed)
		}
		return Address(common.HexToAddress(trimmed)), nil
	}
	return DecodeAddress(strings.ToLower(trimmed))
}

// MustParseAddress is ParseAddress for static inputs.
func MustParseAddress(raw string) Address {
	addr, err := ParseAddress(raw)
	if err != nil {
		panic(err)
	}
	return addr
}
