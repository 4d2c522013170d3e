package catalog

import (
	"fmt"

	"github.com/blevesearch/bleve"
)

// BleveIndex is an in-memory full-text index over every field of each
// camera row (id, name, location, url); the adapter fills it from all rows
// at construction and then updates the changed row on every mutation: an
// additive enrichment that changes nothing about ListCameras's broadcast
// semantics.
type BleveIndex struct {
	idx bleve.Index
}

// NewBleveIndex builds a fresh in-memory index.
func NewBleveIndex() (*BleveIndex, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("catalog: new search index: %w", err)
	}
	return &BleveIndex{idx: idx}, nil
}

func (b *BleveIndex) Index(id string, data interface{}) error {
	return b.idx.Index(id, data)
}

func (b *BleveIndex) Delete(id string) error {
	return b.idx.Delete(id)
}

func (b *BleveIndex) Search(query string) ([]string, error) {
	q := bleve.NewQueryStringQuery(query)
	req := bleve.NewSearchRequest(q)
	result, err := b.idx.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}
