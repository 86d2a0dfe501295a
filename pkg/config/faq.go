// Copyright 2025 Peerex, Ltd.
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

package config

import "fmt"

// FAQConfig configures the FAQ store.
type FAQConfig struct {
	// Path to the JSON store file. The index manager fingerprints this
	// file as a corpus source.
	// Default: "data/faqs.json"
	Path string `yaml:"path,omitempty"`

	// SlugUUIDIDs includes UUID-like FAQ ids when deriving URL slugs.
	// Default: false
	SlugUUIDIDs bool `yaml:"slug_uuid_ids,omitempty"`
}

// SetDefaults applies default values.
func (c *FAQConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "data/faqs.json"
	}
}

// Validate checks the FAQ configuration.
func (c *FAQConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}
