// Package base45x implements the RFC draft-faltstrom-base45 codec used
// to turn a compressed COSE_Sign1 byte string into a barcode-safe
// ASCII alphabet. It wraps github.com/minvws/base45-go/eubase45 — the
// same EU-profile Base45 package Nico0302-coronaqr uses — with the
// strict input validation spec.md §4.1 demands on decode.
package base45x

import (
	"fmt"

	"github.com/minvws/base45-go/eubase45"

	"github.com/ubirch/dcc-cose-service/internal/dcc"
)

// Alphabet is the 45-character set draft-faltstrom-base45 defines.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ $%*+-./:"

var charValue [256]int8

func init() {
	for i := range charValue {
		charValue[i] = -1
	}
	for i, c := range Alphabet {
		charValue[c] = int8(i)
	}
}

// Encode returns the Base45 encoding of data. Each full 2-byte group
// expands to 3 characters; a trailing odd byte expands to 2.
func Encode(data []byte) string {
	out := make([]byte, 0, (len(data)/2+1)*3)
	for i := 0; i+1 < len(data); i += 2 {
		n := int(data[i])<<8 | int(data[i+1])
		out = append(out, Alphabet[n%45])
		n /= 45
		out = append(out, Alphabet[n%45])
		n /= 45
		out = append(out, Alphabet[n])
	}
	if len(data)%2 == 1 {
		n := int(data[len(data)-1])
		out = append(out, Alphabet[n%45])
		out = append(out, Alphabet[n/45])
	}
	return string(out)
}

// Decode is NonUtf8Safe: it operates on ASCII bytes only, rejects
// characters outside Alphabet, rejects group values that decode out of
// range, and rejects input whose length is ≡1 (mod 3). No whitespace
// is trimmed; callers strip the "HC1:" prefix first.
func Decode(s string) ([]byte, error) {
	if len(s)%3 == 1 {
		return nil, dcc.Base45Error(nil, "invalid Base45 length %d (≡1 mod 3)", len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c > 127 || charValue[c] < 0 {
			return nil, dcc.Base45Error(nil, "invalid Base45 character %q at offset %d", c, i)
		}
	}
	if err := checkGroupBounds(s); err != nil {
		return nil, err
	}

	out, err := eubase45.EUBase45Decode([]byte(s))
	if err != nil {
		return nil, dcc.Base45Error(err, "decoding Base45 string")
	}
	return out, nil
}

// checkGroupBounds rejects 3-character groups whose value exceeds
// 65535 and 2-character trailing groups whose value exceeds 255,
// ahead of delegating the actual conversion to eubase45.
func checkGroupBounds(s string) error {
	full := len(s) / 3
	for i := 0; i < full; i++ {
		grp := s[i*3 : i*3+3]
		v := int(charValue[grp[0]]) + int(charValue[grp[1]])*45 + int(charValue[grp[2]])*45*45
		if v > 65535 {
			return dcc.Base45Error(nil, "Base45 group %q decodes out of range (%d)", grp, v)
		}
	}
	rem := s[full*3:]
	if len(rem) == 2 {
		v := int(charValue[rem[0]]) + int(charValue[rem[1]])*45
		if v > 255 {
			return dcc.Base45Error(nil, "trailing Base45 group %q decodes out of range (%d)", rem, v)
		}
	} else if len(rem) != 0 {
		return dcc.Base45Error(nil, fmt.Sprintf("unexpected trailing group length %d", len(rem)))
	}
	return nil
}
