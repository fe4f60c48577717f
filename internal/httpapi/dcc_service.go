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

package httpapi

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/ubirch/dcc-cose-service/internal/certsource"
	"github.com/ubirch/dcc-cose-service/internal/codec"
	"github.com/ubirch/dcc-cose-service/internal/cose"
	"github.com/ubirch/dcc-cose-service/internal/dcc"
	"github.com/ubirch/dcc-cose-service/internal/pipeline"
	"github.com/ubirch/dcc-cose-service/internal/store"
)

const (
	CountryKey   = "country"
	JSONType     = "application/json"
	TextType     = "text/plain"
	AuthHeader   = "X-Auth-Token"
)

var CountryPath = fmt.Sprintf("/{%s}", CountryKey)

// encodeRequest is the POST /certificates/{country}/dcc request body.
type encodeRequest struct {
	Payload    dcc.Payload `json:"payload"`
	Expiration time.Time   `json:"expiration"`
}

// encodeResponse is the POST /certificates/{country}/dcc response body.
type encodeResponse struct {
	HC1 string `json:"hc1"`
}

// decodeRequest is the POST /certificates/decode request body.
type decodeRequest struct {
	HC1 string `json:"hc1"`
}

// decodeResponse is the POST /certificates/decode response body.
type decodeResponse struct {
	Payload    dcc.Payload `json:"payload"`
	Country    string      `json:"country"`
	IssuedAt   time.Time   `json:"issuedAt"`
	Expiration time.Time   `json:"expiration"`
}

// registerRequest is the POST /signers request body: a PEM certificate
// and PEM PKCS#8 private key, registered for the certificate's own
// Subject C= country.
type registerRequest struct {
	CertificatePEM string `json:"certificatePEM"`
	PrivateKeyPEM  string `json:"privateKeyPEM"`
	Algorithm      string `json:"algorithm"`
}

// Service wires the codec/pipeline core to HTTP: it looks up the
// active signer for a country on every encode request (so a freshly
// registered signer takes effect without a service restart) and
// verifies against the shared, periodically refreshed certificate
// cache on every decode request.
type Service struct {
	DB         *store.DatabaseManager
	Secret     []byte
	Cache      *certsource.AtomicProvider
	CodecOpts  codec.Options
	SignOpts   cose.SignOptions
	Clock      func() time.Time
	RegisterAuth string
}

func (s *Service) decoder() *pipeline.Decoder {
	clock := s.Clock
	if clock == nil {
		clock = time.Now
	}
	return pipeline.NewDecoder(s.Cache, s.CodecOpts, clock)
}

// EncodeHandler handles POST /certificates/{country}/dcc.
func (s *Service) EncodeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		country := chi.URLParam(r, CountryKey)

		body, err := readBody(r)
		if err != nil {
			writeError(w, err)
			return
		}

		var req encodeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, dcc.SchemaErrorf(err, "invalid request body"))
			return
		}

		rec, err := s.DB.GetActiveByCountry(country)
		if err == store.ErrNotExist {
			writeError(w, dcc.NoCertificate("no active signer registered for country %q", country))
			return
		}
		if err != nil {
			writeError(w, dcc.KeyLookupError(err, "looking up active signer for %q failed", country))
			return
		}

		signer, err := store.LoadSigner(s.DB, s.Secret, rec.KID)
		if err != nil {
			writeError(w, err)
			return
		}

		enc := pipeline.NewEncoder(signer, s.CodecOpts, s.SignOpts)

		timer := prometheus.NewTimer(signatureDuration)
		hc1, err := enc.Encode(req.Payload, req.Expiration)
		timer.ObserveDuration()
		if err != nil {
			encodeFailureCounter.WithLabelValues(dcc.KindOf(err).String()).Inc()
			writeError(w, err)
			return
		}
		encodeCounter.Inc()

		writeJSON(w, http.StatusOK, encodeResponse{HC1: hc1})
	}
}

// DecodeHandler handles POST /certificates/decode.
func (s *Service) DecodeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			writeError(w, err)
			return
		}

		var req decodeRequest
		switch ContentType(r.Header) {
		case JSONType:
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, dcc.SchemaErrorf(err, "invalid request body"))
				return
			}
		default:
			req.HC1 = string(body)
		}

		result, err := s.decoder().Decode(req.HC1)
		if err != nil {
			decodeFailureCounter.WithLabelValues(dcc.KindOf(err).String()).Inc()
			writeError(w, err)
			return
		}
		decodeCounter.Inc()

		writeJSON(w, http.StatusOK, decodeResponse{
			Payload:    result.Payload,
			Country:    result.Country,
			IssuedAt:   result.IssuedAt,
			Expiration: result.Expiration,
		})
	}
}

// RegisterHandler handles POST /signers, gated by the same
// header-based auth check the teacher uses for identity registration.
func (s *Service) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := checkAuth(r, s.RegisterAuth); err != nil {
			writeError(w, dcc.SignatureFailure("%v", err))
			return
		}

		body, err := readBody(r)
		if err != nil {
			writeError(w, err)
			return
		}

		var req registerRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, dcc.SchemaErrorf(err, "invalid request body"))
			return
		}

		certDER, err := pemToDER(req.CertificatePEM, "CERTIFICATE")
		if err != nil {
			writeError(w, dcc.SchemaErrorf(err, "invalid certificatePEM"))
			return
		}
		keyDER, err := pemToDER(req.PrivateKeyPEM, "PRIVATE KEY")
		if err != nil {
			writeError(w, dcc.SchemaErrorf(err, "invalid privateKeyPEM"))
			return
		}

		rec, err := store.RegisterSigner(s.DB, s.Secret, req.Algorithm, certDER, keyDER)
		if err == store.ErrExists {
			writeError(w, dcc.SchemaError("signer with this certificate is already registered"))
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}

		log.Infof("registered new signer for country %s (kid=%x)", rec.Country, rec.KID)
		writeJSON(w, http.StatusCreated, map[string]string{"country": rec.Country, "kid": fmt.Sprintf("%x", rec.KID)})
	}
}

func checkAuth(r *http.Request, correctAuthToken string) error {
	if r.Header.Get(AuthHeader) != correctAuthToken {
		return fmt.Errorf("invalid auth token")
	}
	return nil
}

func ContentType(header http.Header) string {
	ct := header.Get("Content-Type")
	if ct == "" {
		return TextType
	}
	return ct
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		return nil, dcc.SchemaErrorf(err, "unable to read request body")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", JSONType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("unable to write response: %v", err)
	}
}

// statusForKind maps the closed dcc.Kind taxonomy to HTTP status
// codes.
func statusForKind(k dcc.Kind) int {
	switch k {
	case dcc.SchemaErrorKind, dcc.CborErrorKind, dcc.Base45ErrorKind, dcc.CompressionErrorKind:
		return http.StatusBadRequest
	case dcc.SignatureFailureKind:
		return http.StatusUnauthorized
	case dcc.NoCertificateKind:
		return http.StatusNotFound
	case dcc.ExpiredKind:
		return http.StatusGone
	case dcc.KeyLookupErrorKind:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := dcc.KindOf(err)
	status := statusForKind(kind)
	log.Warnf("%s: %v", kind, err)
	http.Error(w, err.Error(), status)
}
