// Package catalog adapts the external cameras(id, name, location, url)
// table into the narrow CRUD interface the broker dispatcher uses, plus an
// additive full-text search enrichment over the same rows.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetcam/broker/internal/protocol"
)

// ErrCatalog wraps every store failure; callers log it and do not notify
// the requesting peer.
var ErrCatalog = errors.New("catalog: store error")

// cameraRow is the gorm-mapped form of protocol.Camera: an explicit primary
// key, no soft-delete, matching the external table's literal shape.
type cameraRow struct {
	ID       string `gorm:"primaryKey"`
	Name     string
	Location string
	URL      string
}

func (cameraRow) TableName() string { return "cameras" }

func toCamera(r cameraRow) protocol.Camera {
	return protocol.Camera{ID: r.ID, Name: r.Name, Location: r.Location, URL: r.URL}
}

// Index is the subset of bleve's index interface the catalog needs,
// allowing tests to substitute a no-op.
type Index interface {
	Index(id string, data interface{}) error
	Delete(id string) error
	Search(query string) ([]string, error)
}

// Adapter is the camera catalog CRUD surface. One Adapter per broker
// process; every operation opens a transient gorm call against db.
type Adapter struct {
	db    *gorm.DB
	index Index
}

// New runs AutoMigrate against db and returns a ready Adapter. index may be
// nil to disable search (tests commonly do this).
func New(db *gorm.DB, index Index) (*Adapter, error) {
	if err := db.AutoMigrate(&cameraRow{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", ErrCatalog, err)
	}
	a := &Adapter{db: db, index: index}
	if index != nil {
		if err := a.reindexAll(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Adapter) reindexAll() error {
	rows, err := a.listRows()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := a.index.Index(r.ID, r); err != nil {
			return fmt.Errorf("%w: index %s: %v", ErrCatalog, r.ID, err)
		}
	}
	return nil
}

func (a *Adapter) listRows() ([]cameraRow, error) {
	var rows []cameraRow
	if err := a.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrCatalog, err)
	}
	return rows, nil
}

// List returns every camera in the catalog.
func (a *Adapter) List() ([]protocol.Camera, error) {
	rows, err := a.listRows()
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Camera, len(rows))
	for i, r := range rows {
		out[i] = toCamera(r)
	}
	return out, nil
}

// Add inserts a fresh camera row, assigning a new id, and refreshes the
// search index.
func (a *Adapter) Add(name, location, url string) (protocol.Camera, error) {
	row := cameraRow{ID: uuid.NewString(), Name: name, Location: location, URL: url}
	if err := a.db.Create(&row).Error; err != nil {
		return protocol.Camera{}, fmt.Errorf("%w: add: %v", ErrCatalog, err)
	}
	a.indexRow(row)
	return toCamera(row), nil
}

// Edit updates a camera row by id.
func (a *Adapter) Edit(id, name, location, url string) error {
	row := cameraRow{ID: id, Name: name, Location: location, URL: url}
	if err := a.db.Model(&cameraRow{}).Where("id = ?", id).Updates(row).Error; err != nil {
		return fmt.Errorf("%w: edit %s: %v", ErrCatalog, id, err)
	}
	a.indexRow(row)
	return nil
}

// Remove deletes a camera row by id.
func (a *Adapter) Remove(id string) error {
	if err := a.db.Delete(&cameraRow{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrCatalog, id, err)
	}
	if a.index != nil {
		_ = a.index.Delete(id)
	}
	return nil
}

func (a *Adapter) indexRow(row cameraRow) {
	if a.index == nil {
		return
	}
	_ = a.index.Index(row.ID, row)
}

// Search runs the additive bleve-backed full-text search over the indexed
// camera fields (id, name, location, url). Not part of the catalog mutation/broadcast path; reachable
// only from the HTTP surface.
func (a *Adapter) Search(query string) ([]protocol.Camera, error) {
	if a.index == nil {
		return nil, fmt.Errorf("catalog: search index not configured")
	}
	ids, err := a.index.Search(query)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrCatalog, err)
	}
	all, err := a.List()
	if err != nil {
		return nil, err
	}
	matched := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		matched[id] = struct{}{}
	}
	var out []protocol.Camera
	for _, c := range all {
		if _, ok := matched[c.ID]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// normalizeDSN reports whether dsn names a postgres connection string
// (used by cmd/broker to pick a dialector) versus a sqlite file path.
func normalizeDSN(dsn string) (isPostgres bool) {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// IsPostgresDSN is exported for cmd/broker's dialector selection.
func IsPostgresDSN(dsn string) bool { return normalizeDSN(dsn) }
