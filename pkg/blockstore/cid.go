package blockstore

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// rawCodec is the multicodec tag for an opaque, otherwise-untyped
// byte string.
const rawCodec = 0x55

// ComputeCID derives the content address of data: a SHA-256 multihash
// wrapped in a CIDv1 with the raw codec.
func ComputeCID(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to hash block: %w", err)
	}
	return cid.NewCidV1(rawCodec, mh), nil
}

// ParseCID decodes a CID's string form, as stored in the alias and
// pin tables.
func ParseCID(s string) (cid.Cid, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("malformed cid %q: %w", s, err)
	}
	return c, nil
}

// VerifyCID recomputes data's CID and reports whether it matches want,
// the corruption check run on every read.
func VerifyCID(want cid.Cid, data []byte) (bool, error) {
	got, err := ComputeCID(data)
	if err != nil {
		return false, err
	}
	return got.Equals(want), nil
}
