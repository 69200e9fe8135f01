// Package cas provides content addressing for evees entities: CID derivation,
// canonical serialization, signed envelopes and the content store contract.
package cas

import (
	"fmt"
	"sort"
	"strings"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
	"lukechampine.com/blake3"
)

// CidConfig selects how content identifiers are derived.
// Version 0 implies sha2-256 and base58btc.
type CidConfig struct {
	Version uint64             `json:"version"`
	Codec   uint64             `json:"codec"`
	Hash    uint64             `json:"hash"`
	Base    multibase.Encoding `json:"base"`
}

// DefaultCidConfig is CIDv1, raw codec, sha2-256, base58btc.
var DefaultCidConfig = CidConfig{
	Version: 1,
	Codec:   gocid.Raw,
	Hash:    multihash.SHA2_256,
	Base:    multibase.Base58BTC,
}

var codecNames = map[string]uint64{
	"raw":      gocid.Raw,
	"dag-json": gocid.DagJSON,
	"dag-cbor": gocid.DagCBOR,
	"dag-pb":   gocid.DagProtobuf,
}

// ParseCidConfig builds a CidConfig from human names, e.g.
// (1, "raw", "sha2-256", "base58btc").
func ParseCidConfig(version uint64, codec, hash, base string) (CidConfig, error) {
	cfg := DefaultCidConfig
	cfg.Version = version

	if codec != "" {
		c, ok := codecNames[strings.ToLower(codec)]
		if !ok {
			return CidConfig{}, fmt.Errorf("unknown codec %q", codec)
		}
		cfg.Codec = c
	}
	if hash != "" {
		h, ok := multihash.Names[strings.ToLower(hash)]
		if !ok {
			return CidConfig{}, fmt.Errorf("unknown hash function %q", hash)
		}
		cfg.Hash = h
	}
	if base != "" {
		b, ok := multibase.Encodings[strings.ToLower(base)]
		if !ok {
			return CidConfig{}, fmt.Errorf("unknown multibase %q", base)
		}
		cfg.Base = b
	}
	return cfg, cfg.Validate()
}

// Validate checks the combination of parameters is derivable.
func (cfg CidConfig) Validate() error {
	switch cfg.Version {
	case 0:
		if cfg.Hash != multihash.SHA2_256 {
			return fmt.Errorf("cid v0 requires sha2-256, got %s", multihash.Codes[cfg.Hash])
		}
	case 1:
	default:
		return fmt.Errorf("unsupported cid version %d", cfg.Version)
	}
	return nil
}

// CodecNames lists the codec names accepted by ParseCidConfig.
func CodecNames() []string {
	names := make([]string, 0, len(codecNames))
	for n := range codecNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ComputeCID hashes data according to cfg.
func ComputeCID(data []byte, cfg CidConfig) (gocid.Cid, error) {
	if err := cfg.Validate(); err != nil {
		return gocid.Undef, err
	}

	var mh multihash.Multihash
	switch cfg.Hash {
	case multihash.BLAKE3:
		sum := blake3.Sum256(data)
		encoded, err := multihash.Encode(sum[:], multihash.BLAKE3)
		if err != nil {
			return gocid.Undef, fmt.Errorf("multihash: %w", err)
		}
		mh = encoded
	default:
		sum, err := multihash.Sum(data, cfg.Hash, -1)
		if err != nil {
			return gocid.Undef, fmt.Errorf("multihash: %w", err)
		}
		mh = sum
	}

	if cfg.Version == 0 {
		return gocid.NewCidV0(mh), nil
	}
	return gocid.NewCidV1(cfg.Codec, mh), nil
}

// Format renders a CID in the configured base. CIDv0 is always base58btc.
func (cfg CidConfig) Format(c gocid.Cid) (string, error) {
	if c.Version() == 0 {
		return c.String(), nil
	}
	return c.StringOfBase(cfg.Base)
}

// HashBytes returns the string id of data under cfg.
func HashBytes(data []byte, cfg CidConfig) (string, error) {
	c, err := ComputeCID(data, cfg)
	if err != nil {
		return "", err
	}
	return cfg.Format(c)
}
