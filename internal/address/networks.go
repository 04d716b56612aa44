package address

import (
	"fmt"
	"strings"
)

// Metadata is the developer-facing description of a chain's address format.
type Metadata struct {
	Format  string `json:"address_format"`
	Example string `json:"address_example"`
}

var evmMetadata = Metadata{
	Format:  "0x-prefixed hex (42 chars, 20 bytes). EIP-55 checksum recommended.",
	Example: "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
}

var solanaMetadata = Metadata{
	Format:  "Base58 encoded; decodes to exactly 32 bytes (length varies).",
	Example: "4Nd1mY3iQz9dKqG2m9X3pQxvGXn3a6TT5p7H1cDJ5b5P",
}

// chainMetadata maps chain identifiers, including common synonyms, to their
// address format metadata.
var chainMetadata = map[string]Metadata{
	"ethereum":  evmMetadata,
	"etherlink": evmMetadata,
	"evm":       evmMetadata,
	"solana":    solanaMetadata,
}

// MetadataFor returns address metadata for a chain identifier. Matching is
// case-insensitive and tolerates an environment suffix, so network names
// like "etherlink-mainnet" resolve to their chain's format.
func MetadataFor(chain string) (Metadata, error) {
	key := strings.ToLower(strings.TrimSpace(chain))
	meta, ok := chainMetadata[key]
	if !ok {
		if base, _, found := strings.Cut(key, "-"); found {
			meta, ok = chainMetadata[base]
		}
	}
	if !ok {
		return Metadata{}, fmt.Errorf("unsupported chain %q", chain)
	}
	return meta, nil
}

// Info bundles validation and normalization output for one EVM address.
type Info struct {
	Chain            string `json:"chain"`
	Format           string `json:"address_format"`
	Example          string `json:"address_example"`
	Normalized       string `json:"normalized_address"`
	ChecksumValid    bool   `json:"checksum_valid"`
	ValidationReason string `json:"validation_reason"`
}

// EVMInfo validates the address and reports its EIP-55 normalization along
// with whether the supplied casing already matched the checksum.
func EVMInfo(addr string, requireChecksum bool) Info {
	info := Info{
		Chain:   "evm",
		Format:  evmMetadata.Format,
		Example: evmMetadata.Example,
	}

	check := ValidateEVM(addr, requireChecksum)
	if !check.Valid {
		info.ValidationReason = check.Reason
		return info
	}

	info.Normalized = ToEIP55(addr)
	info.ChecksumValid = ValidateEVM(addr, true).Valid
	return info
}
