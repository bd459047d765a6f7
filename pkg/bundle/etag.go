package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// Etag computes the deterministic SHA-256 identity of section 6.2: a
// canonical serialization of the raw bundle document, canonicalized per
// RFC 8785 (JSON Canonicalization Scheme) via gowebpki/jcs so that key
// order, whitespace, and number formatting cannot change the digest, then
// hashed. Construct order within `constructs` is semantically meaningful
// (it is preserved in the typed Contract), so the array itself is left in
// bundle order; only object key order is canonicalized.
func Etag(rawDoc []byte) (string, error) {
	canonical, err := jcs.Transform(rawDoc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalEtag re-marshals an arbitrary document (e.g. a decoded and
// re-normalized bundle, for round-trip tests) through encoding/json before
// canonicalizing, so callers do not need to hand a byte-identical source
// document for the invariant "same bundle -> same etag" to hold.
func CanonicalEtag(doc any) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return Etag(raw)
}
