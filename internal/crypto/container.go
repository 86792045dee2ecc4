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
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sovereignproject/sovereign/internal/schema"
)

// Container holds every configured Suite in priority order: Encrypt always
// uses the first, Decrypt tries each in turn so data encrypted under an
// older key (or a different suite kind during a key rotation) still
// decrypts.
type Container struct {
	Suites []Suite
	Log    logrus.FieldLogger
}

// NewContainer returns a Container trying suites in the given order.
func NewContainer(log logrus.FieldLogger, suites ...Suite) *Container {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Container{Suites: suites, Log: log}
}

// Encrypt encrypts data with the first configured suite.
func (c *Container) Encrypt(data string) (string, error) {
	if len(c.Suites) == 0 {
		return "", ErrKeyUnavailable
	}
	return c.Suites[0].Encrypt(data)
}

// Decrypt tries every configured suite in order, returning the first
// successful decryption.
func (c *Container) Decrypt(data string) (string, error) {
	for _, suite := range c.Suites {
		plaintext, err := suite.Decrypt(data)
		if err == nil {
			return plaintext, nil
		}
		c.Log.WithField("suite", suite.Name()).Debug("failed to decrypt with suite")
	}
	return "", fmt.Errorf("crypto: could not decrypt with any configured suite")
}

// KeyAvailable reports whether the first configured suite has a usable key.
func (c *Container) KeyAvailable() bool {
	if len(c.Suites) == 0 {
		return false
	}
	return c.Suites[0].KeyAvailable()
}

// Authenticator validates the encrypted "auth" field a proxy carries in its
// node metadata against a set of accepted passwords, gating outward
// discovery requests the same way the original auth middleware did.
type Authenticator struct {
	Container *Container
	Passwords map[string]struct{}
	// Enabled toggles enforcement; when false, Authenticate always
	// succeeds (matches config.auth_enabled's escape hatch).
	Enabled bool
}

// NewAuthenticator returns an Authenticator accepting any of passwords.
func NewAuthenticator(container *Container, passwords []string, enabled bool) *Authenticator {
	set := make(map[string]struct{}, len(passwords))
	for _, p := range passwords {
		set[p] = struct{}{}
	}
	return &Authenticator{Container: container, Passwords: set, Enabled: enabled}
}

// Authenticate decrypts req.Node.Metadata["auth"] and checks it against the
// configured password set. Disabled deployments, or requests when no key
// is available, are a no-op success; a missing auth field, a failed
// decryption, or a password not in the accepted set are all failures.
func (a *Authenticator) Authenticate(req schema.DiscoveryRequest) error {
	if !a.Enabled {
		return nil
	}
	if a.Container == nil || !a.Container.KeyAvailable() {
		return fmt.Errorf("crypto: auth enabled but no encryption key is configured")
	}

	raw, ok := req.Node.Metadata["auth"]
	if !ok {
		return fmt.Errorf("crypto: discovery request from %q is missing the auth field", req.Node.ID)
	}
	encrypted, ok := raw.(string)
	if !ok {
		return fmt.Errorf("crypto: auth field must be a string")
	}

	password, err := a.Container.Decrypt(encrypted)
	if err != nil {
		return fmt.Errorf("crypto: authentication failed: %w", err)
	}
	if _, ok := a.Passwords[password]; !ok {
		return fmt.Errorf("crypto: authentication failed: password not accepted")
	}
	return nil
}
