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

import (
	"fmt"
	"time"
)

// VectorProvider identifies the vector store type.
type VectorProvider string

const (
	VectorProviderQdrant   VectorProvider = "qdrant"
	VectorProviderChromem  VectorProvider = "chromem"
	VectorProviderPinecone VectorProvider = "pinecone"
)

// VectorStoreConfig configures a vector store backend.
//
// Only qdrant supports the sparse vector family required for hybrid
// retrieval; chromem and pinecone are dense-only.
type VectorStoreConfig struct {
	// Provider type (qdrant, chromem, pinecone).
	Provider VectorProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=Vector store backend,enum=qdrant,enum=chromem,enum=pinecone,default=qdrant"`

	// Host of the store server (qdrant).
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host,description=Store server hostname"`

	// Port of the store server (qdrant gRPC, default 6334).
	Port int `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"title=Port,description=Store server port"`

	// APIKey for authentication (qdrant cloud, pinecone).
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key (use ${ENV_VAR})"`

	// UseTLS enables TLS for the connection (qdrant).
	UseTLS bool `yaml:"use_tls,omitempty" json:"use_tls,omitempty" jsonschema:"title=Use TLS,description=Use TLS for the connection"`

	// Path is the persistence directory (chromem). Empty means in-memory.
	Path string `yaml:"path,omitempty" json:"path,omitempty" jsonschema:"title=Path,description=Persistence directory for chromem (empty = in-memory)"`

	// IndexHost is the pinecone index host URL.
	IndexHost string `yaml:"index_host,omitempty" json:"index_host,omitempty" jsonschema:"title=Index Host,description=Pinecone index host URL"`

	// Timeout bounds store operations.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Per-operation timeout,default=30s"`
}

// SetDefaults applies default values.
func (c *VectorStoreConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = VectorProviderQdrant
	}
	if c.Provider == VectorProviderQdrant {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 6334
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks the vector store configuration.
func (c *VectorStoreConfig) Validate() error {
	validProviders := map[VectorProvider]bool{
		VectorProviderQdrant:   true,
		VectorProviderChromem:  true,
		VectorProviderPinecone: true,
	}
	if c.Provider != "" && !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q (valid: qdrant, chromem, pinecone)", c.Provider)
	}

	switch c.Provider {
	case VectorProviderQdrant:
		if c.Host == "" {
			return fmt.Errorf("host is required for qdrant")
		}
		if c.Port <= 0 {
			return fmt.Errorf("port must be positive for qdrant")
		}
	case VectorProviderPinecone:
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for pinecone")
		}
		if c.IndexHost == "" {
			return fmt.Errorf("index_host is required for pinecone")
		}
	}

	return nil
}
