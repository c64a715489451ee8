package adapter

import "context"

// FileStore turns bytes into a durable asset reference.
type FileStore interface {
	Store(ctx context.Context, data []byte, category string) (assetRef string, err error)
}

// AssetFetcher downloads a remote asset.
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
