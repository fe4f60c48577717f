// Package cwt implements a CBOR Web Token (RFC 8392) builder and
// parser carrying the hcert claim, per spec.md §4.5. Claims are
// assembled as a hand-built CBOR map so that insertion order — not a
// library's canonical/sorted order — survives to the wire, matching
// §3's "ordered mapping" requirement.
package cwt

import (
	"encoding/binary"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ubirch/dcc-cose-service/internal/dcc"
)

// Claim keys defined by spec.md §3.
const (
	ClaimIss         = 1
	ClaimSub         = 2
	ClaimAud         = 3
	ClaimExp         = 4
	ClaimNbf         = 5
	ClaimIat         = 6
	ClaimCti         = 7
	ClaimHCert       = -260
	ClaimHCertLegacy = -65537

	// cwtTag is the optional outer CWT tag (RFC 8392 §6).
	cwtTag = 61

	// hcertPayloadKey is the sub-key under hcert carrying the DCC.
	hcertPayloadKey = 1
)

// encodeHead writes a CBOR major-type/length head for the given major
// type (0-7, already shifted into the top 3 bits by callers) and count.
func encodeHead(majorShifted byte, n uint64) []byte {
	switch {
	case n < 24:
		return []byte{majorShifted | byte(n)}
	case n <= 0xff:
		return []byte{majorShifted | 24, byte(n)}
	case n <= 0xffff:
		buf := make([]byte, 3)
		buf[0] = majorShifted | 25
		binary.BigEndian.PutUint16(buf[1:], uint16(n))
		return buf
	case n <= 0xffffffff:
		buf := make([]byte, 5)
		buf[0] = majorShifted | 26
		binary.BigEndian.PutUint32(buf[1:], uint32(n))
		return buf
	default:
		buf := make([]byte, 9)
		buf[0] = majorShifted | 27
		binary.BigEndian.PutUint64(buf[1:], n)
		return buf
	}
}

const majorMap = 5 << 5

// mapEntry is one key/value pair of a hand-built ordered CBOR map.
type mapEntry struct {
	keyCBOR []byte
	value   cbor.RawMessage
}

// buildOrderedMap concatenates a CBOR map head and the given entries,
// in slice order, into one ordered map encoding.
func buildOrderedMap(entries []mapEntry) []byte {
	out := encodeHead(majorMap, uint64(len(entries)))
	for _, e := range entries {
		out = append(out, e.keyCBOR...)
		out = append(out, e.value...)
	}
	return out
}

func intKeyCBOR(k int64) []byte {
	b, _ := cbor.Marshal(k)
	return b
}

func textKeyCBOR(k string) []byte {
	b, _ := cbor.Marshal(k)
	return b
}

// Builder assembles a CWT claims map. Each setter consumes and returns
// the same *Builder; Build materialises the immutable CBOR bytes.
type Builder struct {
	entries []mapEntry
}

// NewBuilder starts an empty claims builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) setInt(key int64, value interface{}) *Builder {
	raw, _ := cbor.Marshal(value)
	b.entries = append(b.entries, mapEntry{keyCBOR: intKeyCBOR(key), value: raw})
	return b
}

// Issuer sets claim 1 (iss), the signer's ISO-3166 country.
func (b *Builder) Issuer(country string) *Builder { return b.setInt(ClaimIss, country) }

// Subject sets claim 2 (sub).
func (b *Builder) Subject(sub string) *Builder { return b.setInt(ClaimSub, sub) }

// Audience sets claim 3 (aud). A single-element slice collapses to a
// scalar; multi-element slices are preserved as arrays (spec.md §9
// Open Question — this implementation follows the documented source
// behaviour rather than guessing otherwise).
func (b *Builder) Audience(aud []string) *Builder {
	if len(aud) == 1 {
		return b.setInt(ClaimAud, aud[0])
	}
	return b.setInt(ClaimAud, aud)
}

// Expiration sets claim 4 (exp) as seconds-since-epoch.
func (b *Builder) Expiration(t time.Time) *Builder { return b.setInt(ClaimExp, t.Unix()) }

// NotBefore sets claim 5 (nbf) as seconds-since-epoch.
func (b *Builder) NotBefore(t time.Time) *Builder { return b.setInt(ClaimNbf, t.Unix()) }

// IssuedAt sets claim 6 (iat) as seconds-since-epoch.
func (b *Builder) IssuedAt(t time.Time) *Builder { return b.setInt(ClaimIat, t.Unix()) }

// CWTID sets claim 7 (cti).
func (b *Builder) CWTID(id []byte) *Builder { return b.setInt(ClaimCti, id) }

// DGCV1 places dgcCBOR — the already-CBOR-encoded DCC payload — under
// claim -260 (hcert) sub-key 1, as a decoded CBOR object rather than a
// byte string: this distinction is on-wire visible per spec.md §4.5.
func (b *Builder) DGCV1(dgcCBOR []byte) *Builder {
	hcertMap := buildOrderedMap([]mapEntry{{
		keyCBOR: intKeyCBOR(hcertPayloadKey),
		value:   cbor.RawMessage(dgcCBOR),
	}})
	b.entries = append(b.entries, mapEntry{keyCBOR: intKeyCBOR(ClaimHCert), value: hcertMap})
	return b
}

// Claim is the escape hatch for an arbitrary claim, CBOR-encoding
// value itself.
func (b *Builder) Claim(key interface{}, value interface{}) *Builder {
	raw, _ := cbor.Marshal(value)
	return b.ClaimRaw(key, raw)
}

// ClaimRaw is the escape hatch for an arbitrary claim whose value is
// already-encoded CBOR bytes.
func (b *Builder) ClaimRaw(key interface{}, raw []byte) *Builder {
	var keyCBOR []byte
	switch k := key.(type) {
	case int:
		keyCBOR = intKeyCBOR(int64(k))
	case int64:
		keyCBOR = intKeyCBOR(k)
	case string:
		keyCBOR = textKeyCBOR(k)
	default:
		return b
	}
	b.entries = append(b.entries, mapEntry{keyCBOR: keyCBOR, value: cbor.RawMessage(raw)})
	return b
}

// Build materialises the ordered CWT claims map.
func (b *Builder) Build() ([]byte, error) {
	return buildOrderedMap(b.entries), nil
}

// Cwt is a parsed CWT claims map, accessed via typed getters. Claims
// outside the fixed set of spec.md §3 are out of scope (a documented
// Non-goal), so Cwt only indexes integer claim keys; Parse fails on a
// claims map that carries a text-string key.
type Cwt struct {
	claims map[int64]cbor.RawMessage
}

// Parse decodes data into a Cwt, unwrapping the optional outer CWT tag
// 61 first.
func Parse(data []byte) (*Cwt, error) {
	if len(data) == 0 {
		return nil, dcc.CborError(nil, "empty CWT encoding")
	}
	if data[0]>>5 == 6 {
		var raw cbor.RawTag
		if err := cbor.Unmarshal(data, &raw); err != nil {
			return nil, dcc.CborError(err, "decoding tagged CWT")
		}
		if raw.Number != cwtTag {
			return nil, dcc.CborError(nil, "unexpected outer CWT tag %d", raw.Number)
		}
		data = raw.Content
	}

	var m map[int64]cbor.RawMessage
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, dcc.CborError(err, "decoding CWT claims map")
	}
	return &Cwt{claims: m}, nil
}

func (c *Cwt) getString(key int64) (string, bool) {
	raw, ok := c.claims[key]
	if !ok {
		return "", false
	}
	var s string
	if err := cbor.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (c *Cwt) getTime(key int64) (time.Time, bool) {
	raw, ok := c.claims[key]
	if !ok {
		return time.Time{}, false
	}
	var secs int64
	if err := cbor.Unmarshal(raw, &secs); err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

// Issuer returns claim 1 (iss).
func (c *Cwt) Issuer() (string, bool) { return c.getString(ClaimIss) }

// Subject returns claim 2 (sub).
func (c *Cwt) Subject() (string, bool) { return c.getString(ClaimSub) }

// Expiration returns claim 4 (exp).
func (c *Cwt) Expiration() (time.Time, bool) { return c.getTime(ClaimExp) }

// NotBefore returns claim 5 (nbf).
func (c *Cwt) NotBefore() (time.Time, bool) { return c.getTime(ClaimNbf) }

// IssuedAt returns claim 6 (iat).
func (c *Cwt) IssuedAt() (time.Time, bool) { return c.getTime(ClaimIat) }

// CWTID returns claim 7 (cti).
func (c *Cwt) CWTID() ([]byte, bool) {
	raw, ok := c.claims[ClaimCti]
	if !ok {
		return nil, false
	}
	var b []byte
	if err := cbor.Unmarshal(raw, &b); err != nil {
		return nil, false
	}
	return b, true
}

// DGC returns the raw CBOR bytes of the embedded DCC payload from the
// hcert claim, preferring the canonical key -260 over the legacy
// -65537 when both are present.
func (c *Cwt) DGC() (cbor.RawMessage, error) {
	raw, ok := c.claims[ClaimHCert]
	if !ok {
		raw, ok = c.claims[ClaimHCertLegacy]
	}
	if !ok {
		return nil, dcc.SchemaError("CWT carries no hcert claim (-260 or -65537)")
	}

	var hcertMap map[int64]cbor.RawMessage
	if err := cbor.Unmarshal(raw, &hcertMap); err != nil {
		return nil, dcc.CborError(err, "decoding hcert claim")
	}
	dgc, ok := hcertMap[hcertPayloadKey]
	if !ok {
		return nil, dcc.SchemaError("hcert claim missing sub-key 1")
	}
	return dgc, nil
}
