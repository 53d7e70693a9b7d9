package versionstore

import (
	"fmt"
	"slices"
	"time"

	"github.com/cuongbtq/rabbit-jobqueue/internal/domain"
)

// StructureVersion marks one applied migration step for a target
type StructureVersion struct {
	TargetName  string    `json:"target_name"`
	Version     int       `json:"version"`
	CreatedDate time.Time `json:"created_date"`
}

// StructureVersionList is the ordered set of versions recorded under an identifier
type StructureVersionList struct {
	Identifier string             `json:"identifier"`
	Versions   []StructureVersion `json:"versions"`
}

// NewList builds a list sorted ascending by version. Created dates are kept
// in UTC, the zone they are stored in.
func NewList(identifier string, versions ...StructureVersion) StructureVersionList {
	list := StructureVersionList{
		Identifier: identifier,
		Versions:   slices.Clone(versions),
	}
	for i := range list.Versions {
		list.Versions[i].CreatedDate = list.Versions[i].CreatedDate.UTC()
	}
	list.sort()
	return list
}

func (l *StructureVersionList) sort() {
	slices.SortStableFunc(l.Versions, func(a, b StructureVersion) int {
		return a.Version - b.Version
	})
}

// Push adds v keeping the list ordered
func (l *StructureVersionList) Push(v StructureVersion) {
	v.CreatedDate = v.CreatedDate.UTC()
	l.Versions = append(l.Versions, v)
	l.sort()
}

// Latest returns the highest version, false when the list is empty
func (l StructureVersionList) Latest() (StructureVersion, bool) {
	if len(l.Versions) == 0 {
		return StructureVersion{}, false
	}
	return l.Versions[len(l.Versions)-1], true
}

// Contains reports whether version is recorded
func (l StructureVersionList) Contains(version int) bool {
	return slices.ContainsFunc(l.Versions, func(v StructureVersion) bool {
		return v.Version == version
	})
}

// Validate checks the identifier and that each version appears once
func (l StructureVersionList) Validate() error {
	if err := domain.RequireName("identifier", l.Identifier); err != nil {
		return err
	}

	seen := make(map[int]struct{}, len(l.Versions))
	for _, v := range l.Versions {
		if _, dup := seen[v.Version]; dup {
			return fmt.Errorf("%w: version %d is listed twice for %s", domain.ErrValidation, v.Version, l.Identifier)
		}
		seen[v.Version] = struct{}{}
	}

	return nil
}
