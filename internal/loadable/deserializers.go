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
	"encoding/json"

	"gopkg.in/yaml.v3"
)

func init() {
	RegisterDeserializer(SerializationYAML, func(data []byte) (any, error) {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	})
	RegisterDeserializer(SerializationJSON, func(data []byte) (any, error) {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	})
	RegisterDeserializer(SerializationString, func(data []byte) (any, error) {
		return string(data), nil
	})
	RegisterDeserializer(SerializationRaw, func(data []byte) (any, error) {
		return data, nil
	})
	// Jinja-flavoured templates are parsed by the template package, which
	// selects its own engine per api_version; here the loader only hands
	// back the unparsed source text, matching the legacy "+jinja" suffix's
	// actual effect of skipping decoding.
	RegisterDeserializer(SerializationJinja, func(data []byte) (any, error) {
		return string(data), nil
	})
}
