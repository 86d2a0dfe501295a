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

// Package hermod is a multi-channel AI support gateway.
//
// Hermod answers customer questions over chat channels (web chat,
// Matrix) from a curated knowledge base, routes low-confidence answers
// to human support staff, and learns from staff corrections and user
// reactions. Everything is driven by a single YAML configuration file.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/peerex/hermod/cmd/hermod@latest
//
// Create a minimal configuration:
//
//	llms:
//	  default:
//	    provider: "openai"
//	    model: "gpt-4o-mini"
//	    api_key: "${OPENAI_API_KEY}"
//
//	embedders:
//	  default:
//	    provider: "openai"
//	    model: "text-embedding-3-small"
//	    api_key: "${OPENAI_API_KEY}"
//
//	vector_stores:
//	  default:
//	    provider: "chromem"
//	    path: "data/vectors"
//
//	knowledge:
//	  sources:
//	    - path: "docs/"
//
// Start the gateway:
//
//	hermod serve --config hermod.yaml
//
// # Using as a Go Library
//
// The assembled service graph is available through the runtime package:
//
//	import (
//	    "github.com/peerex/hermod/pkg/config"
//	    "github.com/peerex/hermod/pkg/runtime"
//	)
//
// Individual building blocks (gateway, retriever, escalation engine,
// channel plugins) live under pkg/ and can be composed directly.
//
// # Architecture
//
// A message flows through the system as:
//
//	Channel Plugin → Gateway (pre-hooks → RAG → post-hooks) → Dispatcher
//	                                                     ↘ Escalation Queue
//
// The dispatcher either delivers the answer back through the channel or
// queues it for staff review, in which case the user receives a notice
// and a staff member responds through the HTTP API.
//
// # License
//
// Apache-2.0 - See LICENSE for details.
package hermod
