// Package dataobject models the named data sources and sinks actions are
// wired to.
package dataobject

import (
	"fmt"
	"sort"
)

// DataObject describes one named dataset location.
type DataObject struct {
	ID               string
	Location         string
	PartitionColumns []string
	// Store names the catalog driver serving this object ("memory", "fs", …).
	Store string
	// AllowOverwriteAll permits an unpartitioned overwrite of a partitioned
	// object. Without it that combination is a processing-logic error.
	AllowOverwriteAll bool
}

func (d *DataObject) IsPartitioned() bool { return len(d.PartitionColumns) > 0 }

// Registry resolves data objects by id at configuration-load time.
type Registry struct {
	objects map[string]*DataObject
}

func NewRegistry() *Registry {
	return &Registry{objects: map[string]*DataObject{}}
}

func (r *Registry) Add(d *DataObject) error {
	if d.ID == "" {
		return fmt.Errorf("data object without id")
	}
	if _, exists := r.objects[d.ID]; exists {
		return fmt.Errorf("duplicate data object id %q", d.ID)
	}
	r.objects[d.ID] = d
	return nil
}

func (r *Registry) Get(id string) (*DataObject, error) {
	if d, ok := r.objects[id]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("unknown data object %q", id)
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.objects))
	for id := range r.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
