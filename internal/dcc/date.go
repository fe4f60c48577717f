// Copyright (c) 2021 ubirch GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dcc

import (
	"fmt"
	"regexp"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode = func() cbor.EncMode {
	enc, err := cbor.EncOptions{}.EncMode()
	if err != nil {
		panic(err)
	}
	return enc
}()

var cborDecMode = func() cbor.DecMode {
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return dec
}()

// dobPattern accepts YYYY, YYYY-MM, YYYY-MM-DD, and tolerates "-XX"
// placeholders in the month/day positions on input, per the tolerant
// grammar described in spec.md's dob invariant.
var dobPattern = regexp.MustCompile(`^\d{4}(-(\d{2}|XX))?(-(\d{2}|XX))?$`)

// LocalDate is an ISO-8601 calendar date serialised as an untagged CBOR
// text string, used for dob, dt, fr, df, du.
type LocalDate string

// ParseLocalDate validates text against the tolerant dob grammar.
func ParseLocalDate(text string) (LocalDate, error) {
	if !dobPattern.MatchString(text) {
		return "", SchemaError("invalid date %q: expected YYYY[-MM[-DD]], tolerating -XX placeholders", text)
	}
	return LocalDate(text), nil
}

func (d LocalDate) String() string { return string(d) }

// MarshalCBOR encodes the date as an untagged text string.
func (d LocalDate) MarshalCBOR() ([]byte, error) {
	return cborEncMode.Marshal(string(d))
}

// UnmarshalCBOR decodes an untagged text string into LocalDate without
// re-validating the tolerant grammar — the decoder never rejects dates
// the encoder would, since callers may be replaying third-party data.
func (d *LocalDate) UnmarshalCBOR(data []byte) error {
	var s string
	if err := cborDecMode.Unmarshal(data, &s); err != nil {
		return CborError(err, "decoding LocalDate")
	}
	*d = LocalDate(s)
	return nil
}

// Instant is a point in time serialised as an Instant per spec.md §4.4:
// tag 0 (RFC 3339 text) by default, with the encoder able to omit the
// tag via untagged, and the decoder tolerating tag 1 numeric seconds,
// untagged numeric seconds, and untagged ISO text.
type Instant struct {
	t        time.Time
	untagged bool
}

// NewInstant builds an Instant from a time.Time, truncated to seconds
// as the wire format carries no sub-second precision.
func NewInstant(t time.Time) Instant {
	return Instant{t: t.UTC().Truncate(time.Second)}
}

// Time returns the wrapped time value.
func (i Instant) Time() time.Time { return i.t }

// IsZero reports whether the Instant was never set.
func (i Instant) IsZero() bool { return i.t.IsZero() }

// Untagged returns a copy of i configured to encode without the tag 0
// wrapper. Used by the codec layer's UntaggedInstants option.
func (i Instant) Untagged() Instant {
	i.untagged = true
	return i
}

func (i Instant) MarshalCBOR() ([]byte, error) {
	s := i.t.UTC().Format(time.RFC3339)
	if i.untagged {
		return cborEncMode.Marshal(s)
	}
	return cborEncMode.Marshal(cbor.Tag{Number: 0, Content: s})
}

func (i *Instant) UnmarshalCBOR(data []byte) error {
	if len(data) == 0 {
		return CborError(nil, "empty Instant encoding")
	}

	// major type 6 (tag) occupies the top 3 bits of the initial byte.
	if data[0]>>5 == 6 {
		var raw cbor.RawTag
		if err := cborDecMode.Unmarshal(data, &raw); err != nil {
			return CborError(err, "decoding tagged Instant")
		}
		switch raw.Number {
		case 0:
			var s string
			if err := cborDecMode.Unmarshal(raw.Content, &s); err != nil {
				return CborError(err, "decoding tag-0 Instant string")
			}
			return i.parseISO(s)
		case 1:
			return i.parseSeconds(raw.Content)
		default:
			return CborError(nil, "unsupported Instant tag %d", raw.Number)
		}
	}

	// untagged: numeric seconds (int or float) or ISO text.
	switch data[0] >> 5 {
	case 0, 1, 7: // unsigned int, negative int, float/simple
		return i.parseSeconds(data)
	case 3: // text string
		var s string
		if err := cborDecMode.Unmarshal(data, &s); err != nil {
			return CborError(err, "decoding untagged Instant string")
		}
		return i.parseISO(s)
	default:
		return CborError(nil, "unsupported untagged Instant encoding (major type %d)", data[0]>>5)
	}
}

func (i *Instant) parseSeconds(raw cbor.RawMessage) error {
	var f float64
	if err := cborDecMode.Unmarshal(raw, &f); err != nil {
		return CborError(err, "decoding numeric Instant seconds")
	}
	whole := int64(f)
	frac := f - float64(whole)
	i.t = time.Unix(whole, int64(frac*float64(time.Second))).UTC()
	i.untagged = false
	return nil
}

func (i *Instant) parseISO(s string) error {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02T15:04:05", s)
	}
	if err != nil {
		return SchemaError("invalid date-time %q: %v", s, err)
	}
	i.t = t.UTC()
	i.untagged = false
	return nil
}

func (i Instant) String() string {
	return fmt.Sprintf("%s", i.t.UTC().Format(time.RFC3339))
}
