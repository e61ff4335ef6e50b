package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aistack/plugin-registry/pkg/pluginpkg"
)

// Record is the GORM model mirroring one registry entry. The descriptor is
// stored as a JSON document; the registry never queries inside it.
type Record struct {
	PluginID     string    `gorm:"primaryKey;column:plugin_id;type:varchar(255)"`
	Version      string    `gorm:"column:version;not null"`
	Descriptor   string    `gorm:"column:descriptor;type:text;not null"`
	RegisteredAt time.Time `gorm:"column:registered_at;not null"`
}

// TableName returns the GORM table name.
func (Record) TableName() string { return "plugin_registry" }

// Store persists registry entries to the durable keyed store.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the plugin_registry table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Record{})
}

// Save upserts the record for an entry, keyed by plugin ID.
func (s *Store) Save(e Entry) error {
	raw, err := json.Marshal(e.Descriptor)
	if err != nil {
		return fmt.Errorf("encode descriptor %s: %w", e.Descriptor.ID, err)
	}
	rec := Record{
		PluginID:     e.Descriptor.ID,
		Version:      e.Descriptor.Version,
		Descriptor:   string(raw),
		RegisteredAt: e.RegisteredAt,
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "plugin_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "descriptor", "registered_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save registry record: %w", err)
	}
	return nil
}

// Delete removes the record for pluginID.
func (s *Store) Delete(pluginID string) error {
	if err := s.db.Delete(&Record{}, "plugin_id = ?", pluginID).Error; err != nil {
		return fmt.Errorf("delete registry record: %w", err)
	}
	return nil
}

// LoadAll reads every persisted entry.
func (s *Store) LoadAll() ([]Entry, error) {
	var records []Record
	if err := s.db.Order("plugin_id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load registry records: %w", err)
	}
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		var desc pluginpkg.PluginDescriptor
		if err := json.Unmarshal([]byte(rec.Descriptor), &desc); err != nil {
			return nil, fmt.Errorf("decode descriptor %s: %w", rec.PluginID, err)
		}
		entries = append(entries, Entry{Descriptor: &desc, RegisteredAt: rec.RegisteredAt})
	}
	return entries, nil
}
