// Package subfeed defines the message passed along a DAG edge between
// actions: a dataset handle plus partition metadata. A SubFeed is immutable
// once emitted; receiving actions derive new ones instead of mutating it.
package subfeed

import (
	"strata/internal/compute"
	"strata/internal/partition"
)

type SubFeed struct {
	DataObjectID    string
	PartitionValues []partition.Values
	IsSkipped       bool

	// DataHandle is owned by the compute collaborator; the core only looks
	// at its schema/partition projection, never its content.
	DataHandle compute.Dataset
}

func New(dataObjectID string, pvs []partition.Values) *SubFeed {
	return &SubFeed{DataObjectID: dataObjectID, PartitionValues: pvs}
}

// WithDataHandle derives a new SubFeed carrying ds.
func (s *SubFeed) WithDataHandle(ds compute.Dataset) *SubFeed {
	c := *s
	c.DataHandle = ds
	return &c
}

// Skipped derives a new SubFeed flagged as skipped with the handle cleared.
func (s *SubFeed) Skipped() *SubFeed {
	c := *s
	c.IsSkipped = true
	c.DataHandle = nil
	return &c
}

// Cleared derives a fresh SubFeed for the beginning of a step: handle and
// skip flag reset, partition values kept.
func (s *SubFeed) Cleared() *SubFeed {
	c := *s
	c.IsSkipped = false
	c.DataHandle = nil
	return &c
}
