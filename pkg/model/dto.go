package model

import "time"

// StoreDTO is the shape exchanged with the remote store listing and the UI.
type StoreDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Description *string   `json:"description,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RouteDTO is the route shape handed to the UI.
type RouteDTO struct {
	FromLocation string  `json:"fromLocation"`
	ToLocation   string  `json:"toLocation"`
	RouteData    *string `json:"routeData,omitempty"`
	Distance     float64 `json:"distance"` // meters
	Duration     int     `json:"duration"` // seconds
}

// ImageDTO is the image metadata shape handed to the UI.
type ImageDTO struct {
	ID         string  `json:"id"`
	StoreID    string  `json:"storeId"`
	RemoteURL  *string `json:"remoteUrl,omitempty"`
	LocalPath  *string `json:"localPath,omitempty"`
	ExternalID *string `json:"publicId,omitempty"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FileSize   int64   `json:"fileSize"`
	IsUploaded bool    `json:"isUploaded"`
}

// StoreFromDTO maps a transfer object onto a cache record. LastSyncedAt is
// left zero; the cache stamps it on write.
func StoreFromDTO(d *StoreDTO) *Store {
	return &Store{
		ID:          d.ID,
		Name:        d.Name,
		Address:     d.Address,
		Lat:         d.Latitude,
		Lon:         d.Longitude,
		Description: deref(d.Description),
		Phone:       deref(d.Phone),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// DTO maps the record back to its transfer shape.
func (s *Store) DTO() *StoreDTO {
	return &StoreDTO{
		ID:          s.ID,
		Name:        s.Name,
		Address:     s.Address,
		Latitude:    s.Lat,
		Longitude:   s.Lon,
		Description: ref(s.Description),
		Phone:       ref(s.Phone),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// RouteFromDTO maps a transfer object onto a cache record.
func RouteFromDTO(d *RouteDTO) *Route {
	return &Route{
		FromLocation:    d.FromLocation,
		ToLocation:      d.ToLocation,
		RouteData:       deref(d.RouteData),
		DistanceMeters:  d.Distance,
		DurationSeconds: d.Duration,
	}
}

// DTO maps the record back to its transfer shape.
func (r *Route) DTO() *RouteDTO {
	return &RouteDTO{
		FromLocation: r.FromLocation,
		ToLocation:   r.ToLocation,
		RouteData:    ref(r.RouteData),
		Distance:     r.DistanceMeters,
		Duration:     r.DurationSeconds,
	}
}

// ImageFromDTO maps a transfer object onto a cache record.
func ImageFromDTO(d *ImageDTO) *Image {
	return &Image{
		ID:            d.ID,
		StoreID:       d.StoreID,
		RemoteURL:     deref(d.RemoteURL),
		LocalPath:     deref(d.LocalPath),
		ExternalID:    deref(d.ExternalID),
		Width:         d.Width,
		Height:        d.Height,
		FileSizeBytes: d.FileSize,
		IsUploaded:    d.IsUploaded,
	}
}

// DTO maps the record back to its transfer shape.
func (i *Image) DTO() *ImageDTO {
	return &ImageDTO{
		ID:         i.ID,
		StoreID:    i.StoreID,
		RemoteURL:  ref(i.RemoteURL),
		LocalPath:  ref(i.LocalPath),
		ExternalID: ref(i.ExternalID),
		Width:      i.Width,
		Height:     i.Height,
		FileSize:   i.FileSizeBytes,
		IsUploaded: i.IsUploaded,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
