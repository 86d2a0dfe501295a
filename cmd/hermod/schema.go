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

package main

import (
	"encoding/json"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/peerex/hermod/pkg/config"
)

// SchemaCmd generates the JSON Schema for the configuration file. The
// same schema is served at /api/schema; this command exists so build
// tooling can snapshot it without a running server.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://hermod.peerex.net/schemas/config.json"
	schema.Title = "Hermod Configuration Schema"
	schema.Description = "Configuration schema for the Hermod support gateway"
	schema.Version = "http://json-schema.org/draft-07/schema#"
	schema.Examples = []interface{}{
		map[string]interface{}{
			"name": "peerex-support",
			"llms": map[string]interface{}{
				"default": map[string]interface{}{
					"provider": "anthropic",
					"model":    "claude-sonnet-4-20250514",
					"api_key":  "${ANTHROPIC_API_KEY}",
				},
			},
			"embedders": map[string]interface{}{
				"default": map[string]interface{}{
					"provider": "ollama",
					"model":    "nomic-embed-text",
				},
			},
			"vector_stores": map[string]interface{}{
				"default": map[string]interface{}{
					"provider": "qdrant",
					"host":     "localhost",
				},
			},
			"knowledge": map[string]interface{}{
				"sources": []interface{}{
					map[string]interface{}{"name": "kb", "path": "./kb"},
				},
			},
		},
	}

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(schema)
}
