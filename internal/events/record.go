// Package events defines the payloads exchanged between devices through the
// record sync pipeline.
package events

import "time"

// RecordUpserted is emitted whenever a record is created or edited in a
// shared zone. All timestamps are canonical UTC.
type RecordUpserted struct {
	RecordID       string     `json:"record_id"`
	FamilyID       string     `json:"family_id"`
	ZoneID         string     `json:"zone_id"`
	Category       string     `json:"category"`
	StartAt        time.Time  `json:"start_at"`
	EndAt          *time.Time `json:"end_at,omitempty"`
	DiaperType     *string    `json:"diaper_type,omitempty"`
	FeedingType    *string    `json:"feeding_type,omitempty"`
	BottleVolumeML *int       `json:"bottle_volume_ml,omitempty"`
	Version        string     `json:"version"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RecordDeleted propagates an explicit user deletion to every zone sharing
// the record.
type RecordDeleted struct {
	RecordID  string    `json:"record_id"`
	FamilyID  string    `json:"family_id"`
	ZoneID    string    `json:"zone_id"`
	DeletedAt time.Time `json:"deleted_at"`
}
