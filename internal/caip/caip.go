// Package caip maps between the wallet's hex chain-id / address pairs and
// the CAIP-10 account references the accounts API speaks
// (eip155:<decimal chain id>:<checksum address>).
package caip

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Namespace is the CAIP-2 namespace for EVM chains.
const Namespace = "eip155"

// FormatAccountRef builds the canonical account reference for an address
// on a chain. The address is checksum-normalized before formatting.
func FormatAccountRef(chainIDHex, address string) (string, error) {
	dec, err := HexToDecimalChainID(chainIDHex)
	if err != nil {
		return "", err
	}
	checksummed, err := ChecksumAddress(address)
	if err != nil {
		return "", err
	}
	return Namespace + ":" + dec + ":" + checksummed, nil
}

// ParseAccountRef splits an account reference back into its hex chain id
// and address. The address keeps the casing it was formatted with.
func ParseAccountRef(ref string) (chainIDHex, address string, err error) {
	parts := strings.Split(ref, ":")
	if len(parts) != 3 || parts[0] != Namespace {
		return "", "", fmt.Errorf("malformed account reference %q", ref)
	}
	chainIDHex, err = DecimalToHexChainID(parts[1])
	if err != nil {
		return "", "", fmt.Errorf("account reference %q: %w", ref, err)
	}
	if !common.IsHexAddress(parts[2]) {
		return "", "", fmt.Errorf("account reference %q: invalid address", ref)
	}
	return chainIDHex, parts[2], nil
}

// ChecksumAddress returns the EIP-55 checksummed form of address.
func ChecksumAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address %q", address)
	}
	return common.HexToAddress(address).Hex(), nil
}

// HexToDecimalChainID converts a 0x-prefixed hex chain id to its decimal
// string form.
func HexToDecimalChainID(chainIDHex string) (string, error) {
	lower := strings.ToLower(chainIDHex)
	if !strings.HasPrefix(lower, "0x") {
		return "", fmt.Errorf("chain id %q is not 0x-prefixed hex", chainIDHex)
	}
	v, err := strconv.ParseUint(lower[2:], 16, 64)
	if err != nil {
		return "", fmt.Errorf("parse chain id %q: %w", chainIDHex, err)
	}
	return strconv.FormatUint(v, 10), nil
}

// DecimalToHexChainID converts a decimal chain id string to the wallet's
// 0x-prefixed lowercase hex form.
func DecimalToHexChainID(chainIDDec string) (string, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(chainIDDec), 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse decimal chain id %q: %w", chainIDDec, err)
	}
	return "0x" + strconv.FormatUint(v, 16), nil
}

// NormalizeChainRef accepts a chain identifier in decimal ("137"),
// hex ("0x89") or CAIP-2 ("eip155:137") form and returns the hex form.
func NormalizeChainRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if rest, ok := strings.CutPrefix(ref, Namespace+":"); ok {
		return DecimalToHexChainID(rest)
	}
	if strings.HasPrefix(strings.ToLower(ref), "0x") {
		// Round-trip to canonicalize casing and reject junk.
		dec, err := HexToDecimalChainID(ref)
		if err != nil {
			return "", err
		}
		return DecimalToHexChainID(dec)
	}
	return DecimalToHexChainID(ref)
}
