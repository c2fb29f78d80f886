// Package archive defines the record model and the capabilities shared by the sync pipeline.
package archive

import "time"

// Record is one harvested item as it is persisted in the catalog.
type Record struct {
	ID                int64          `json:"id"`
	ExternalID        string         `json:"external_id"`
	CaptureTime       time.Time      `json:"capture_time"`
	CaptureTimeParsed bool           `json:"capture_time_parsed"`
	PrimaryLocation   *string        `json:"primary_location,omitempty"`
	SecondaryLocation *string        `json:"secondary_location,omitempty"`
	Environment       Environment    `json:"environment"`
	RawMetadata       map[string]any `json:"raw_metadata,omitempty"`
	ContentHash       string         `json:"content_hash"`
	AssetURI          string         `json:"asset_uri"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Environment holds the readings shown next to a record. Absent readings stay nil.
type Environment struct {
	Temperature *Temperature `json:"temperature,omitempty"`
	Wind        *Wind        `json:"wind,omitempty"`
	Pressure    *Pressure    `json:"pressure,omitempty"`
	SunStatus   *string      `json:"sun_status,omitempty"`
	MoonPhase   *string      `json:"moon_phase,omitempty"`
}

// IsEmpty reports whether no reading was captured.
func (e Environment) IsEmpty() bool {
	return e.Temperature == nil && e.Wind == nil && e.Pressure == nil && e.SunStatus == nil && e.MoonPhase == nil
}

// Temperature is a parsed temperature reading such as 45°F.
type Temperature struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Wind is a parsed wind reading such as "NW 5 mph".
type Wind struct {
	Speed     float64 `json:"speed"`
	Direction string  `json:"direction"`
	Unit      *string `json:"unit,omitempty"`
}

// Pressure is a parsed barometric reading such as "30.12 inHg".
type Pressure struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Metadata is the partially populated field set read from the focused record.
type Metadata struct {
	Timestamp         string
	PrimaryLocation   *string
	SecondaryLocation *string
	Environment       Environment
	Raw               map[string]any
	Dropped           []DroppedField
}

// DroppedField describes a field that was present but could not be parsed.
type DroppedField struct {
	Label  string
	Value  string
	Reason string
}

// Payload is a downloaded binary staged on local disk.
type Payload struct {
	Path        string
	Size        int64
	ContentType string
	Extension   string
}

// ObjectMeta carries the upload hints for an object store write.
type ObjectMeta struct {
	ContentType  string
	CacheControl string
}

// ArchivedEvent is published after a record has been committed.
type ArchivedEvent struct {
	RunID       string    `json:"run_id"`
	RecordID    int64     `json:"record_id"`
	ExternalID  string    `json:"external_id"`
	ContentHash string    `json:"content_hash"`
	AssetURI    string    `json:"asset_uri"`
	CaptureTime time.Time `json:"capture_time"`
	ArchivedAt  time.Time `json:"archived_at"`
}
