// Package codec implements the DCC-specialised CBOR serialisation of
// spec.md §4.4: insertion-ordered maps (via struct field order),
// LocalDate/Instant tagging rules, subject-name transliteration
// fill-in, and omit-null/omit-empty elision.
package codec

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/ubirch/dcc-cose-service/internal/dcc"
	"github.com/ubirch/dcc-cose-service/internal/mrz"
)

// Options configures a Codec. The zero value is the spec's default
// behaviour: Instant fields are tagged with CBOR tag 0.
type Options struct {
	// UntaggedInstants, when true, makes the encoder emit Instant
	// fields as untagged text strings, for interop with peers that
	// reject CBOR tags.
	UntaggedInstants bool
}

// Codec is immutable after construction and safe for concurrent use,
// per spec.md §5: its only state is the Options it was built with.
type Codec struct {
	opts Options
}

// New builds a Codec. opts is copied; mutating the caller's value
// afterwards has no effect.
func New(opts Options) *Codec {
	return &Codec{opts: opts}
}

// Encode transliterates missing fnt/gnt fields, validates the payload,
// and serialises it to CBOR with insertion-order map keys.
func (c *Codec) Encode(p dcc.Payload) ([]byte, error) {
	p = clone(p)

	if p.Name.FamilyNameStd == "" && p.Name.FamilyName != "" {
		p.Name.FamilyNameStd = mrz.Encode(p.Name.FamilyName)
	}
	if p.Name.GivenNameStd == "" && p.Name.GivenName != "" {
		p.Name.GivenNameStd = mrz.Encode(p.Name.GivenName)
	}

	if c.opts.UntaggedInstants {
		untagInstants(&p)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	out, err := cbor.Marshal(p)
	if err != nil {
		return nil, dcc.CborError(err, "encoding DCC payload")
	}
	return out, nil
}

// Decode deserialises CBOR bytes into a Payload. The decoder accepts
// any map key order and never rewrites nam.fnt/nam.gnt.
func (c *Codec) Decode(data []byte) (dcc.Payload, error) {
	var p dcc.Payload
	if err := cbor.Unmarshal(data, &p); err != nil {
		return dcc.Payload{}, dcc.CborError(err, "decoding DCC payload")
	}
	if err := p.Validate(); err != nil {
		return dcc.Payload{}, err
	}
	return p, nil
}

// clone deep-copies the slice fields of p so Encode never mutates the
// caller's payload, per the pure-function concurrency model (§5).
func clone(p dcc.Payload) dcc.Payload {
	if p.Vaccinations != nil {
		v := make([]dcc.VaccinationEntry, len(p.Vaccinations))
		copy(v, p.Vaccinations)
		p.Vaccinations = v
	}
	if p.Tests != nil {
		t := make([]dcc.TestEntry, len(p.Tests))
		copy(t, p.Tests)
		for i, e := range t {
			if e.ResultTime != nil {
				rt := *e.ResultTime
				t[i].ResultTime = &rt
			}
		}
		p.Tests = t
	}
	if p.Recoveries != nil {
		r := make([]dcc.RecoveryEntry, len(p.Recoveries))
		copy(r, p.Recoveries)
		p.Recoveries = r
	}
	return p
}

// untagInstants switches every Instant field in p to its untagged
// encoding, used when Options.UntaggedInstants is set.
func untagInstants(p *dcc.Payload) {
	for i := range p.Tests {
		p.Tests[i].SampleCollection = p.Tests[i].SampleCollection.Untagged()
		if p.Tests[i].ResultTime != nil {
			rt := p.Tests[i].ResultTime.Untagged()
			p.Tests[i].ResultTime = &rt
		}
	}
}
