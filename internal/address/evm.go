// Package address validates and normalizes chain account addresses before
// they reach a provider.
package address

import (
	"strings"

	"golang.org/x/crypto/sha3"
)

// Check is the outcome of a validation pass.
type Check struct {
	Valid  bool
	Reason string
}

func invalid(reason string) Check {
	return Check{Valid: false, Reason: reason}
}

func basicHexCheck(addr string) Check {
	if !strings.HasPrefix(addr, "0x") {
		return invalid("must start with 0x")
	}
	if len(addr) != 42 {
		return invalid("length must be 42")
	}
	for _, c := range addr[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return invalid("contains non-hex chars")
		}
	}
	return Check{Valid: true}
}

// ValidateEVM validates an EVM account address: 0x prefix, 42 characters,
// hex body. With requireChecksum it additionally enforces EIP-55 casing.
func ValidateEVM(addr string, requireChecksum bool) Check {
	if addr == "" {
		return invalid("empty address")
	}
	if check := basicHexCheck(addr); !check.Valid {
		return check
	}
	if requireChecksum && ToEIP55(addr) != addr {
		return invalid("invalid EIP-55 checksum")
	}
	return Check{Valid: true}
}

// ToEIP55 returns the EIP-55 checksum casing of a structurally valid
// address. The input's own casing is ignored.
func ToEIP55(addr string) string {
	body := strings.ToLower(strings.TrimPrefix(addr, "0x"))

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(body))
	hash := hasher.Sum(nil)

	out := make([]byte, len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c >= 'a' && c <= 'f' {
			nibble := hash[i/2]
			if i%2 == 0 {
				nibble >>= 4
			}
			if nibble&0x0f >= 8 {
				c = c - 'a' + 'A'
			}
		}
		out[i] = c
	}
	return "0x" + string(out)
}
