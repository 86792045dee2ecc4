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

package loadable

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func init() {
	RegisterProtocol("file", loadFile)
	RegisterProtocol("http", loadHTTP)
	RegisterProtocol("https", loadHTTP)
	RegisterProtocol("env", loadEnv)
	RegisterProtocol("inline", loadInline)
	RegisterProtocol("s3", loadS3)
	RegisterProtocol("module", loadModule)
}

func loadFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to load %s: %w", path, err)
	}
	return data, nil
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func loadHTTP(path string) (any, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func loadEnv(variable string) (any, error) {
	v, ok := os.LookupEnv(variable)
	if !ok {
		return nil, fmt.Errorf("environment variable %s is not set", variable)
	}
	return []byte(v), nil
}

// loadInline returns the path itself as the value, used for the legacy
// format's fallback when a configured string contains no "://".
func loadInline(path string) (any, error) {
	return path, nil
}

// loadS3 fetches an object addressed as "<bucket>/<key>". It resolves
// credentials from the default AWS credential chain, matching the remote
// cache's S3 client setup.
func loadS3(path string) (any, error) {
	bucket, key, ok := strings.Cut(path, "/")
	if !ok {
		return nil, fmt.Errorf("s3 path %q must be \"<bucket>/<key>\"", path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// modules is the build-time registry backing the "module" protocol: Go has
// no dynamic import, so rather than a language construct this is a
// compile-time map from a symbolic name to an already-constructed value,
// populated by callers (the crypto and modifier packages register
// themselves under the names the configuration schema may reference).
var modules = map[string]any{}

// RegisterModule makes a value addressable via "module://<name>".
func RegisterModule(name string, value any) {
	modules[name] = value
}

func loadModule(name string) (any, error) {
	v, ok := modules[name]
	if !ok {
		return nil, fmt.Errorf("no module registered under %q", name)
	}
	return v, nil
}
