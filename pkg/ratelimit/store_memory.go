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

package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	count     int
	windowEnd time.Time
}

// MemoryStore is an in-process Store for single-instance deployments
// and tests. Expired windows are reset on access and swept when the map
// grows large.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*memoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*memoryRecord),
	}
}

func (s *MemoryStore) Increment(ctx context.Context, identifier string, window time.Duration) (int, time.Time, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.data[identifier]
	if !exists || record.windowEnd.Before(now) {
		record = &memoryRecord{count: 1, windowEnd: now.Add(window)}
		s.data[identifier] = record
	} else {
		record.count++
	}

	if len(s.data) > 16384 {
		for key, rec := range s.data {
			if rec.windowEnd.Before(now) {
				delete(s.data, key)
			}
		}
	}

	return record.count, record.windowEnd, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]*memoryRecord)
	return nil
}

var _ Store = (*MemoryStore)(nil)
