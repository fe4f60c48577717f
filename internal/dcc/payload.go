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

// Package dcc is the core of the DCC pipeline: the payload data model,
// the closed error taxonomy, and the Signer/CertificateProvider
// abstractions the COSE layer signs and verifies against. It has no
// I/O and no logging — every operation consumes its inputs and returns
// fresh outputs, per the concurrency model in spec.md §5.
package dcc

import "regexp"

// transliteratedPattern matches the ICAO MRZ character set the fnt/gnt
// fields are restricted to after transliteration.
var transliteratedPattern = regexp.MustCompile(`^[A-Z<]*$`)

// Name holds the certificate holder's family and given names, plus
// their MRZ-transliterated standardised forms.
type Name struct {
	FamilyName    string `cbor:"fn,omitempty"`
	FamilyNameStd string `cbor:"fnt,omitempty"`
	GivenName     string `cbor:"gn,omitempty"`
	GivenNameStd  string `cbor:"gnt,omitempty"`
}

// Payload is the logical DCC payload (spec.md §3). Exactly one of
// Vaccinations, Tests, Recoveries is expected to carry entries in a
// fully valid certificate. Validate rejects a payload in which more
// than one of them is present, or one is present but empty; a payload
// with none of them present passes Validate.
type Payload struct {
	Version      string             `cbor:"ver"`
	Name         Name               `cbor:"nam"`
	DateOfBirth  LocalDate          `cbor:"dob"`
	Vaccinations []VaccinationEntry `cbor:"v,omitempty"`
	Tests        []TestEntry        `cbor:"t,omitempty"`
	Recoveries   []RecoveryEntry    `cbor:"r,omitempty"`
}

// entryCommon holds the fields shared by every entry kind.
type entryCommon struct {
	Disease string `cbor:"tg"`
	Country string `cbor:"co"`
	Issuer  string `cbor:"is"`
	UVCI    string `cbor:"ci"`
}

// VaccinationEntry is one entry of Payload.Vaccinations.
type VaccinationEntry struct {
	Disease      string    `cbor:"tg"`
	Vaccine      string    `cbor:"vp"`
	Product      string    `cbor:"mp"`
	Manufacturer string    `cbor:"ma"`
	DoseNumber   int       `cbor:"dn"`
	DoseTotal    int       `cbor:"sd"`
	Date         LocalDate `cbor:"dt"`
	Country      string    `cbor:"co"`
	Issuer       string    `cbor:"is"`
	UVCI         string    `cbor:"ci"`
}

// TestEntry is one entry of Payload.Tests.
type TestEntry struct {
	Disease          string    `cbor:"tg"`
	TestType         string    `cbor:"tt"`
	TestName         string    `cbor:"nm,omitempty"`
	Manufacturer     string    `cbor:"ma,omitempty"`
	SampleCollection Instant   `cbor:"sc"`
	ResultTime       *Instant  `cbor:"dr,omitempty"`
	Result           string    `cbor:"tr"`
	TestingCentre    string    `cbor:"tc,omitempty"`
	Country          string    `cbor:"co"`
	Issuer           string    `cbor:"is"`
	UVCI             string    `cbor:"ci"`
}

// RecoveryEntry is one entry of Payload.Recoveries.
type RecoveryEntry struct {
	Disease               string    `cbor:"tg"`
	FirstPositiveTestDate LocalDate `cbor:"fr"`
	ValidFrom             LocalDate `cbor:"df"`
	ValidUntil            LocalDate `cbor:"du"`
	Country               string    `cbor:"co"`
	Issuer                string    `cbor:"is"`
	UVCI                  string    `cbor:"ci"`
}

// Validate checks the structural invariants of spec.md §3: fnt/gnt
// restricted to [A-Z<], dose numbers in [1,9], entry field length
// limits, and UVCI uniqueness across every entry in the DCC. It does
// not re-check the dob grammar: only ParseLocalDate checks it, and
// neither CBOR decoding nor a plain LocalDate conversion does.
func (p Payload) Validate() error {
	if p.Name.FamilyNameStd != "" && !transliteratedPattern.MatchString(p.Name.FamilyNameStd) {
		return SchemaError("nam.fnt contains characters outside [A-Z<]: %q", p.Name.FamilyNameStd)
	}
	if p.Name.GivenNameStd != "" && !transliteratedPattern.MatchString(p.Name.GivenNameStd) {
		return SchemaError("nam.gnt contains characters outside [A-Z<]: %q", p.Name.GivenNameStd)
	}
	if len(p.Name.FamilyNameStd) > 50 || len(p.Name.GivenNameStd) > 50 {
		return SchemaError("nam.fnt/gnt exceed 50 characters")
	}

	groups := 0
	if p.Vaccinations != nil {
		groups++
		if len(p.Vaccinations) == 0 {
			return SchemaError("v is present but empty")
		}
	}
	if p.Tests != nil {
		groups++
		if len(p.Tests) == 0 {
			return SchemaError("t is present but empty")
		}
	}
	if p.Recoveries != nil {
		groups++
		if len(p.Recoveries) == 0 {
			return SchemaError("r is present but empty")
		}
	}
	if groups > 1 {
		return SchemaError("exactly one of v/t/r may carry entries, found %d", groups)
	}

	uvcis := make(map[string]struct{})
	addUVCI := func(common entryCommon) error {
		if common.Country == "" {
			return SchemaError("entry missing co")
		}
		if len(common.Issuer) > 50 {
			return SchemaError("entry is exceeds 50 characters")
		}
		if len(common.UVCI) > 50 {
			return SchemaError("entry ci exceeds 50 characters")
		}
		if _, dup := uvcis[common.UVCI]; dup {
			return SchemaError("duplicate UVCI within DCC: %q", common.UVCI)
		}
		uvcis[common.UVCI] = struct{}{}
		return nil
	}

	for _, v := range p.Vaccinations {
		if v.DoseNumber < 1 || v.DoseNumber > 9 || v.DoseTotal < 1 || v.DoseTotal > 9 {
			return SchemaError("vaccination dose numbers must lie in [1,9]: dn=%d sd=%d", v.DoseNumber, v.DoseTotal)
		}
		if err := addUVCI(entryCommon{Disease: v.Disease, Country: v.Country, Issuer: v.Issuer, UVCI: v.UVCI}); err != nil {
			return err
		}
	}
	for _, t := range p.Tests {
		if err := addUVCI(entryCommon{Disease: t.Disease, Country: t.Country, Issuer: t.Issuer, UVCI: t.UVCI}); err != nil {
			return err
		}
	}
	for _, r := range p.Recoveries {
		if err := addUVCI(entryCommon{Disease: r.Disease, Country: r.Country, Issuer: r.Issuer, UVCI: r.UVCI}); err != nil {
			return err
		}
	}

	return nil
}
