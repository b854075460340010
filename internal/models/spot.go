package models

import (
	"fmt"
	"time"

	"gopkg.in/guregu/null.v4"
)

// SpotRef identifies a single physical spot within a structure/floor
type SpotRef struct {
	StructureID string `json:"structureId"`
	FloorID     string `json:"floorId"`
	SpotID      string `json:"spotId"`
}

func (r SpotRef) String() string {
	return fmt.Sprintf("%s/%s/%s", r.StructureID, r.FloorID, r.SpotID)
}

// Scope returns the floor the spot belongs to
func (r SpotRef) Scope() FloorScope {
	return FloorScope{StructureID: r.StructureID, FloorID: r.FloorID}
}

// Less orders spot refs by ascending identifier
func (r SpotRef) Less(o SpotRef) bool {
	if r.StructureID != o.StructureID {
		return r.StructureID < o.StructureID
	}
	if r.FloorID != o.FloorID {
		return r.FloorID < o.FloorID
	}
	return r.SpotID < o.SpotID
}

// FloorScope addresses one floor of a structure; it is the unit of feed subscription
type FloorScope struct {
	StructureID string `json:"structureId"`
	FloorID     string `json:"floorId"`
}

func (s FloorScope) String() string {
	return s.StructureID + "/" + s.FloorID
}

// Contains reports whether ref lives on this floor
func (s FloorScope) Contains(ref SpotRef) bool {
	return ref.StructureID == s.StructureID && ref.FloorID == s.FloorID
}

// Spot is the authoritative occupancy record of one spot
type Spot struct {
	SpotRef
	Organization string      `json:"organization"`
	Type         SpotType    `json:"type"`
	Occupied     bool        `json:"occupied"`
	ReservedBy   null.String `json:"reservedBy"`
	Version      int64       `json:"version"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

type SpotType string

const (
	SpotTypeStandard   SpotType = "standard"
	SpotTypeCompact    SpotType = "compact"
	SpotTypeEV         SpotType = "ev"
	SpotTypeAccessible SpotType = "accessible"
)

// AssignmentCriteria selects candidate spots for assignment
type AssignmentCriteria struct {
	Organization string   `json:"organization"`
	StructureID  string   `json:"structureId"`
	FloorID      string   `json:"floorId,omitempty"`
	Type         SpotType `json:"type,omitempty"`
}

// Matches reports whether spot satisfies the criteria, ignoring occupancy
func (c AssignmentCriteria) Matches(spot Spot) bool {
	if c.Organization != "" && spot.Organization != c.Organization {
		return false
	}
	if c.StructureID != "" && spot.StructureID != c.StructureID {
		return false
	}
	if c.FloorID != "" && spot.FloorID != c.FloorID {
		return false
	}
	if c.Type != "" && spot.Type != c.Type {
		return false
	}
	return true
}

// OccupancyDiff is one change-feed event for a single spot
type OccupancyDiff struct {
	Spot     SpotRef `json:"spot"`
	Occupied bool    `json:"occupied"`
	Version  int64   `json:"version"`
}

// DiffOf builds the feed event for the current state of spot
func DiffOf(spot Spot) OccupancyDiff {
	return OccupancyDiff{Spot: spot.SpotRef, Occupied: spot.Occupied, Version: spot.Version}
}
