package packets

import "github.com/lithium-clr/lithium-server-sub002/pkg/protocol"

// Packet ids of asset transfer.
const (
	IDAssetInitialize int32 = 40
	IDAssetPart       int32 = 41
	IDRequestAssets   int32 = 42
)

// AssetPartSize is the largest chunk a single AssetPart carries.
const AssetPartSize = 2 << 20

// Asset identifies an asset by content hash and name.
type Asset struct {
	Hash string `wire:"fixed=0,size=64"` // hex sha-256
	Name string `wire:"offset=0"`
}

// AssetInitialize announces an asset transfer of Size bytes. AssetPart
// packets follow.
type AssetInitialize struct {
	Size  int32 `wire:"fixed=0"`
	Asset Asset `wire:"offset=0"`
}

func (AssetInitialize) PacketInfo() protocol.Info {
	return protocol.Info{ID: IDAssetInitialize, Name: "AssetInitialize", MaxSize: 4096, VariableBlockStart: 8}
}

// AssetPart is one chunk of an asset transfer.
type AssetPart struct {
	Part []byte `wire:"bit=0,offset=0"`
}

func (AssetPart) PacketInfo() protocol.Info {
	return protocol.Info{
		ID:                 IDAssetPart,
		Name:               "AssetPart",
		Compression:        protocol.CompressionZstd,
		MaxSize:            AssetPartSize + 10,
		VariableBlockStart: 5,
	}
}

// RequestAssets lists the assets a client is missing.
type RequestAssets struct {
	Assets []Asset `wire:"bit=0"`
}

func (RequestAssets) PacketInfo() protocol.Info {
	return protocol.Info{
		ID:                 IDRequestAssets,
		Name:               "RequestAssets",
		Compression:        protocol.CompressionZstd,
		MaxSize:            1 << 20,
		VariableBlockStart: 1,
	}
}
