package model

import (
	"time"

	"github.com/google/uuid"
)

// Store is a place of business as held in the offline cache.
type Store struct {
	ID          string  `json:"id"` // Primary Key
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	Lat         float64 `json:"latitude"`
	Lon         float64 `json:"longitude"`
	Description string  `json:"description,omitempty"` // Optional, empty means absent
	Phone       string  `json:"phone,omitempty"`       // Optional, empty means absent

	// Source-of-truth timestamps, supplied by the caller.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Stamped by the cache on every write.
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// Route is a memoized path between two location keys.
// (FromLocation, ToLocation) is directional: A->B and B->A are distinct routes.
type Route struct {
	ID              int64   `json:"-"` // Internal row id, not part of the logical key
	FromLocation    string  `json:"from_location"`
	ToLocation      string  `json:"to_location"`
	RouteData       string  `json:"route_data,omitempty"` // GeoJSON FeatureCollection
	DistanceMeters  float64 `json:"distance_m"`
	DurationSeconds int     `json:"duration_s"`

	CreatedAt  time.Time `json:"created_at"`   // Set once, on first insert
	LastUsedAt time.Time `json:"last_used_at"` // Zero when never stamped (NULL)
}

// Image is the cached metadata of a store photo held by the external image store.
type Image struct {
	ID            string `json:"id"`       // Object id in the external image store
	StoreID       string `json:"store_id"` // Not enforced against the stores collection
	RemoteURL     string `json:"remote_url,omitempty"`
	LocalPath     string `json:"local_path,omitempty"`
	ExternalID    string `json:"external_id,omitempty"` // Opaque handle into the external image store
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	FileSizeBytes int64  `json:"file_size"`
	IsUploaded    bool   `json:"is_uploaded"`

	LastSyncedAt time.Time `json:"last_synced_at"` // Stamped by the cache on every write
}

// NewLocalImage returns an image record for a photo that exists only on the
// device. It gets a random id until the external store assigns one.
func NewLocalImage(storeID, localPath string) *Image {
	return &Image{
		ID:        uuid.NewString(),
		StoreID:   storeID,
		LocalPath: localPath,
	}
}

// IsLocalOnly reports whether the image has not reached the external store yet.
func (i *Image) IsLocalOnly() bool {
	return !i.IsUploaded && i.ExternalID == ""
}
