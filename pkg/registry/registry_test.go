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

package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	ID   string
	Name string
}

func TestRegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[testItem]()

	item := testItem{ID: "web", Name: "Web Channel"}
	require.NoError(t, r.Register("web", item))

	got, ok := r.Get("web")
	require.True(t, ok)
	assert.Equal(t, item, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewBaseRegistry[testItem]()

	require.NoError(t, r.Register("web", testItem{ID: "web"}))

	err := r.Register("web", testItem{ID: "web"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegisterEmptyName(t *testing.T) {
	r := NewBaseRegistry[testItem]()

	err := r.Register("", testItem{ID: "x"})
	require.Error(t, err)
}

func TestNamesSorted(t *testing.T) {
	r := NewBaseRegistry[testItem]()

	require.NoError(t, r.Register("zeta", testItem{ID: "zeta"}))
	require.NoError(t, r.Register("alpha", testItem{ID: "alpha"}))
	require.NoError(t, r.Register("mid", testItem{ID: "mid"}))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())
}

func TestRemove(t *testing.T) {
	r := NewBaseRegistry[testItem]()

	require.NoError(t, r.Register("web", testItem{ID: "web"}))
	require.NoError(t, r.Remove("web"))

	_, ok := r.Get("web")
	assert.False(t, ok)

	err := r.Remove("web")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestClear(t *testing.T) {
	r := NewBaseRegistry[testItem]()

	require.NoError(t, r.Register("a", testItem{ID: "a"}))
	require.NoError(t, r.Register("b", testItem{ID: "b"}))
	require.Equal(t, 2, r.Count())

	r.Clear()

	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.List())
}

func TestConcurrentAccess(t *testing.T) {
	r := NewBaseRegistry[testItem]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := fmt.Sprintf("item-%d", n)
			_ = r.Register(name, testItem{ID: name})
			r.Get(name)
			r.List()
			r.Count()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, r.Count())
}
