package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

type ListingCategory string

const (
	ListingCategoryRealEstate ListingCategory = "RE"
	ListingCategoryVehicle    ListingCategory = "VE"
	ListingCategoryOther      ListingCategory = "OT"
)

func (t ListingCategory) Valid() bool {
	switch t {
	case ListingCategoryRealEstate, ListingCategoryVehicle, ListingCategoryOther:
		return true
	}
	return false
}

func (t *ListingCategory) Scan(value interface{}) error {
	s, err := scanEnumString(value)
	if err != nil {
		return err
	}
	*t = ListingCategory(s)
	if !t.Valid() {
		return fmt.Errorf("invalid listing category %q", s)
	}
	return nil
}

func (t ListingCategory) Value() (driver.Value, error) {
	return string(t), nil
}

type PipelineType string

const (
	PipelineTypeIngest  PipelineType = "INGEST"
	PipelineTypeAI      PipelineType = "AI"
	PipelineTypeVehicle PipelineType = "VEHICLE"
)

func (t PipelineType) Valid() bool {
	switch t {
	case PipelineTypeIngest, PipelineTypeAI, PipelineTypeVehicle:
		return true
	}
	return false
}

type WorkUnitStatus string

const (
	WorkUnitStatusPending    WorkUnitStatus = "pending"
	WorkUnitStatusProcessing WorkUnitStatus = "processing"
	WorkUnitStatusCompleted  WorkUnitStatus = "completed"
	WorkUnitStatusFailed     WorkUnitStatus = "failed"
)

type RuleType string

const (
	RuleTypeNewListing  RuleType = "new_listing"
	RuleTypePriceChange RuleType = "price_change"
	RuleTypeEndingSoon  RuleType = "ending_soon"
)

func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeNewListing, RuleTypePriceChange, RuleTypeEndingSoon:
		return true
	}
	return false
}

// HistorySourceManual tags price-history rows written by an API-triggered
// refresh rather than a scheduler tier.
const HistorySourceManual = "manual"

func scanEnumString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", errors.New("enum value must be a string")
	}
}
