package domain

import (
	"fmt"
	"time"
)

// Category is the closed set of loggable care events. Every switch over it
// must be exhaustive.
type Category string

const (
	CategorySleep   Category = "sleep"
	CategoryDiaper  Category = "diaper"
	CategoryFeeding Category = "feeding"
)

// ParseCategory validates a raw category string.
func ParseCategory(raw string) (Category, error) {
	switch Category(raw) {
	case CategorySleep, CategoryDiaper, CategoryFeeding:
		return Category(raw), nil
	default:
		return "", &ValidationError{Reason: fmt.Sprintf("unknown category: %q", raw)}
	}
}

// DiaperType qualifies diaper records.
type DiaperType string

const (
	DiaperTypeWet   DiaperType = "wet"
	DiaperTypeDirty DiaperType = "dirty"
	DiaperTypeMixed DiaperType = "mixed"
)

// FeedingType qualifies feeding records.
type FeedingType string

const (
	FeedingTypeBreast FeedingType = "breast"
	FeedingTypeBottle FeedingType = "bottle"
	FeedingTypeSolid  FeedingType = "solid"
)

// ActionRecord is one logged care event. It lives in a shared zone and is
// edited concurrently from multiple devices; all timestamps on a stored
// record are canonicalized so cross-device comparisons are exact.
type ActionRecord struct {
	ID       string
	FamilyID string
	ZoneID   string
	Category Category

	StartAt time.Time
	// EndAt is nil while the action is still in progress.
	EndAt *time.Time

	// Exactly the field matching Category is populated.
	DiaperType     *DiaperType
	FeedingType    *FeedingType
	BottleVolumeML *int

	Version   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOpen reports whether the action is still in progress.
func (r ActionRecord) IsOpen() bool {
	return r.EndAt == nil
}

// Duration computes how long the action lasted. Open actions are measured
// against asOf, supplied by the caller so the computation stays pure. Clock
// skew between devices can put asOf before StartAt; the result is clamped
// to zero, never negative.
func (r ActionRecord) Duration(asOf time.Time) time.Duration {
	end := asOf
	if r.EndAt != nil {
		end = *r.EndAt
	}
	d := end.Sub(r.StartAt)
	if d < 0 {
		return 0
	}
	return d
}

// SummaryKey maps the record to a stable display/merge key. The specific
// type wins when present, falling back to the category alone. Bottle volume
// participates only for bottle feedings. Two records with the same key are
// the same logical kind of event during merge comparison.
func (r ActionRecord) SummaryKey() string {
	switch r.Category {
	case CategorySleep:
		return string(CategorySleep)
	case CategoryDiaper:
		if r.DiaperType != nil {
			return fmt.Sprintf("%s.%s", CategoryDiaper, *r.DiaperType)
		}
		return string(CategoryDiaper)
	case CategoryFeeding:
		if r.FeedingType == nil {
			return string(CategoryFeeding)
		}
		if *r.FeedingType == FeedingTypeBottle && r.BottleVolumeML != nil {
			return fmt.Sprintf("%s.%s.%d", CategoryFeeding, FeedingTypeBottle, *r.BottleVolumeML)
		}
		return fmt.Sprintf("%s.%s", CategoryFeeding, *r.FeedingType)
	default:
		return string(r.Category)
	}
}

// Validate enforces the record invariants.
func (r ActionRecord) Validate() error {
	if _, err := ParseCategory(string(r.Category)); err != nil {
		return err
	}
	if r.StartAt.IsZero() {
		return &ValidationError{Reason: "start time is required"}
	}
	if r.EndAt != nil && r.EndAt.Before(r.StartAt) {
		return &ValidationError{Reason: "end time precedes start time"}
	}

	switch r.Category {
	case CategorySleep:
		if r.DiaperType != nil || r.FeedingType != nil || r.BottleVolumeML != nil {
			return &ValidationError{Reason: "sleep records carry no type fields"}
		}
	case CategoryDiaper:
		if r.FeedingType != nil || r.BottleVolumeML != nil {
			return &ValidationError{Reason: "diaper records carry no feeding fields"}
		}
	case CategoryFeeding:
		if r.DiaperType != nil {
			return &ValidationError{Reason: "feeding records carry no diaper type"}
		}
		if r.BottleVolumeML != nil {
			if r.FeedingType == nil || *r.FeedingType != FeedingTypeBottle {
				return &ValidationError{Reason: "bottle volume requires bottle feeding type"}
			}
			if *r.BottleVolumeML <= 0 {
				return &ValidationError{Reason: "bottle volume must be positive"}
			}
		}
	}
	return nil
}
