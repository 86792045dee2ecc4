// Copyright Project Contour Authors
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

// Package crypto provides the pluggable cipher suites a deployment can use
// to encrypt the "auth" field a proxy carries in its node metadata, plus
// the template-rendering helper ("crypto.encrypt"/"crypto.decrypt") and the
// Authenticator that gates outward discovery requests when auth is
// enabled.
package crypto

import "errors"

// ErrKeyUnavailable is returned by DisabledSuite, and by any suite
// constructed without a usable key.
var ErrKeyUnavailable = errors.New("crypto: no key available for this suite")

// Suite is a single cipher's capability: encrypt/decrypt a string, report
// whether it has a usable key, and name itself (the name is what gets
// recorded alongside ciphertext so the right suite decrypts it later).
type Suite interface {
	Name() string
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	KeyAvailable() bool
}

// Kind names a configured suite implementation.
type Kind string

const (
	KindDisabled Kind = "disabled"
	KindAESGCM   Kind = "aesgcm"
	KindFernet   Kind = "fernet"
)

// New constructs the suite named by kind with secretKey (url-safe base64,
// 32 decoded bytes). An empty or invalid key degrades to DisabledSuite
// rather than failing construction, matching the original behaviour of
// falling back to "no encryption" when a key is missing or malformed.
func New(kind Kind, secretKey string) Suite {
	if secretKey == "" {
		return DisabledSuite{}
	}
	switch kind {
	case KindAESGCM:
		s, err := NewAESGCM(secretKey)
		if err != nil {
			return DisabledSuite{}
		}
		return s
	case KindFernet:
		s, err := NewFernetStyle(secretKey)
		if err != nil {
			return DisabledSuite{}
		}
		return s
	default:
		return DisabledSuite{}
	}
}

// DisabledSuite is used when no key is configured. It never encrypts or
// decrypts anything -- every attempt fails with ErrKeyUnavailable.
type DisabledSuite struct{}

func (DisabledSuite) Name() string                  { return string(KindDisabled) }
func (DisabledSuite) Encrypt(string) (string, error) { return "", ErrKeyUnavailable }
func (DisabledSuite) Decrypt(string) (string, error) { return "", ErrKeyUnavailable }
func (DisabledSuite) KeyAvailable() bool             { return false }

var _ Suite = DisabledSuite{}
