package handshake

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"sync"

	"github.com/lithium-clr/lithium-server-sub002/pkg/packets"
)

// AssetStore serves the assets clients download before joining a world.
type AssetStore interface {
	// Assets lists every asset a client needs.
	Assets() []packets.Asset

	// Get returns the content of the asset with hash.
	Get(hash string) ([]byte, bool)
}

// MemoryAssets is an in-memory AssetStore.
type MemoryAssets struct {
	mu      sync.RWMutex
	assets  map[string]packets.Asset
	content map[string][]byte
}

// NewMemoryAssets creates an empty store.
func NewMemoryAssets() *MemoryAssets {
	return &MemoryAssets{
		assets:  make(map[string]packets.Asset),
		content: make(map[string][]byte),
	}
}

// Put stores data under name and returns its asset entry. The hash is the
// hex SHA-256 of data.
func (m *MemoryAssets) Put(name string, data []byte) packets.Asset {
	sum := sha256.Sum256(data)
	a := packets.Asset{Hash: hex.EncodeToString(sum[:]), Name: name}

	m.mu.Lock()
	m.assets[a.Hash] = a
	m.content[a.Hash] = data
	m.mu.Unlock()
	return a
}

// Assets implements AssetStore. Assets are ordered by name.
func (m *MemoryAssets) Assets() []packets.Asset {
	m.mu.RLock()
	out := make([]packets.Asset, 0, len(m.assets))
	for _, a := range m.assets {
		out = append(out, a)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b packets.Asset) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Get implements AssetStore.
func (m *MemoryAssets) Get(hash string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.content[hash]
	return data, ok
}
