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

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// authenticatedData binds ciphertext to this application, the same static
// additional-authenticated-data value the AEAD was keyed with elsewhere in
// this corpus, so data encrypted by one component can't be replayed as if
// it came from another.
var authenticatedData = []byte("sovereign")

// AESGCMSuite is a direct AEAD realisation: the standard library's
// crypto/aes + crypto/cipher already implement exactly what's needed here,
// so no third-party AEAD package is pulled in for it.
type AESGCMSuite struct {
	aead cipher.AEAD
}

// NewAESGCM builds an AESGCMSuite from a urlsafe-base64-encoded 256 bit key.
func NewAESGCM(secretKeyB64 string) (*AESGCMSuite, error) {
	key, err := base64.URLEncoding.DecodeString(secretKeyB64)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode aesgcm key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: build aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: build gcm aead: %w", err)
	}
	return &AESGCMSuite{aead: aead}, nil
}

func (s *AESGCMSuite) Name() string { return string(KindAESGCM) }

func (s *AESGCMSuite) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}
	ciphertext := s.aead.Seal(nonce, nonce, []byte(plaintext), authenticatedData)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *AESGCMSuite) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decode ciphertext: %w", err)
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("crypto: ciphertext too short")
	}
	nonce, sealed := data[:n], data[n:]
	plaintext, err := s.aead.Open(nil, nonce, sealed, authenticatedData)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt: %w", err)
	}
	return string(plaintext), nil
}

func (s *AESGCMSuite) KeyAvailable() bool { return true }

var _ Suite = (*AESGCMSuite)(nil)
