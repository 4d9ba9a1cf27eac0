// Package metadata keeps an Iceberg-style record of published table files
// next to the data in the object store.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"coinflow/internal/storage"
)

const jsonContentType = "application/json"

// DataFile describes a single file written by the publisher.
type DataFile struct {
	Path        string         `json:"path"`
	Format      string         `json:"file_format"`
	FileSize    int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	Partition   map[string]any `json:"partition"`
}

// ManifestEntry mirrors the information kept in an Iceberg manifest file.
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

// Snapshot holds minimal information required for time-travel queries.
type Snapshot struct {
	SnapshotID  int64  `json:"snapshot-id"`
	TimestampMs int64  `json:"timestamp-ms"`
	Manifest    string `json:"manifest-list"`
}

// TableMetadata represents the high level Iceberg table metadata file.
type TableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	Location          string     `json:"location"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Generator appends snapshots to the table metadata stored under prefix.
// Metadata is read back from the store on every call, so separate runs
// extend the same history.
type Generator struct {
	store     storage.ObjectStore
	prefix    string
	tableName string
	location  string
}

// NewGenerator returns a generator writing below prefix for the table whose
// data lives at location.
func NewGenerator(store storage.ObjectStore, prefix, tableName, location string) *Generator {
	return &Generator{
		store:     store,
		prefix:    prefix,
		tableName: tableName,
		location:  location,
	}
}

func (g *Generator) metadataKey() string {
	return g.prefix + "metadata.json"
}

// AddFiles writes one manifest for files and makes it the current snapshot.
func (g *Generator) AddFiles(ctx context.Context, ts time.Time, files []DataFile) (Snapshot, error) {
	tm, err := g.Load(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snapID := ts.UnixNano()
	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)
	entries := make([]ManifestEntry, 0, len(files))
	for _, df := range files {
		entries = append(entries, ManifestEntry{Status: 1, DataFile: df})
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return Snapshot{}, err
	}
	if err := g.store.Put(ctx, g.prefix+manifestFile, b, jsonContentType); err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{
		SnapshotID:  snapID,
		TimestampMs: ts.UnixMilli(),
		Manifest:    manifestFile,
	}
	tm.Snapshots = append(tm.Snapshots, snapshot)
	tm.CurrentSnapshotID = snapID
	tm.Location = g.location

	b, err = json.MarshalIndent(tm, "", "  ")
	if err != nil {
		return Snapshot{}, err
	}
	if err := g.store.Put(ctx, g.metadataKey(), b, jsonContentType); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// Load returns the stored table metadata, or a fresh table when none exists.
func (g *Generator) Load(ctx context.Context) (TableMetadata, error) {
	b, err := g.store.Get(ctx, g.metadataKey())
	if errors.Is(err, storage.ErrNotFound) {
		return TableMetadata{
			FormatVersion: 2,
			TableUUID:     uuid.NewString(),
			Location:      g.location,
		}, nil
	}
	if err != nil {
		return TableMetadata{}, err
	}
	var tm TableMetadata
	if err := json.Unmarshal(b, &tm); err != nil {
		return TableMetadata{}, fmt.Errorf("decode %s: %w", g.metadataKey(), err)
	}
	return tm, nil
}

// WriteCatalogEntry creates a simple catalog entry pointing at the table metadata.
func (g *Generator) WriteCatalogEntry(ctx context.Context) error {
	entry := map[string]string{
		"name":              g.tableName,
		"metadata_location": g.metadataKey(),
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return g.store.Put(ctx, g.prefix+"catalog/"+g.tableName+".json", b, jsonContentType)
}
