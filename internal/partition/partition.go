// Package partition models partition-value tuples and the set operations the
// incremental execution modes are built on.
package partition

import (
	"fmt"
	"sort"
	"strings"
)

// Values is one partition-value tuple: partition column → value.
// The zero value (nil or empty map) means "whole dataset / not yet known".
type Values map[string]string

// Keys returns the partition columns of this tuple, sorted.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Format renders the tuple as "k1=v1/k2=v2" with keys in cols order; keys not
// listed in cols are appended sorted. Used for metric keys and log lines.
func (v Values) Format(cols []string) string {
	var parts []string
	seen := map[string]bool{}
	for _, c := range cols {
		if val, ok := v[c]; ok {
			parts = append(parts, c+"="+val)
			seen[c] = true
		}
	}
	for _, k := range v.Keys() {
		if !seen[k] {
			parts = append(parts, k+"="+v[k])
		}
	}
	return strings.Join(parts, "/")
}

func (v Values) String() string { return v.Format(nil) }

// key is a canonical representation used for set membership.
func (v Values) key() string { return v.Format(nil) }

// Clone returns an independent copy.
func (v Values) Clone() Values {
	c := make(Values, len(v))
	for k, val := range v {
		c[k] = val
	}
	return c
}

// Filter keeps only the given columns.
func (v Values) Filter(cols []string) Values {
	out := Values{}
	for _, c := range cols {
		if val, ok := v[c]; ok {
			out[c] = val
		}
	}
	return out
}

// IsIncludedIn reports whether every key/value of v also appears in other.
func (v Values) IsIncludedIn(other Values) bool {
	for k, val := range v {
		if other[k] != val {
			return false
		}
	}
	return true
}

// Diff returns the tuples of a that have no equal tuple in b. Order of a is
// preserved; comparison is by full tuple, not by individual keys.
func Diff(a, b []Values) []Values {
	index := make(map[string]bool, len(b))
	for _, pv := range b {
		index[pv.key()] = true
	}
	var missing []Values
	for _, pv := range a {
		if !index[pv.key()] {
			missing = append(missing, pv)
		}
	}
	return missing
}

// Dedup removes duplicate tuples, keeping first occurrences.
func Dedup(in []Values) []Values {
	seen := map[string]bool{}
	var out []Values
	for _, pv := range in {
		if !seen[pv.key()] {
			seen[pv.key()] = true
			out = append(out, pv)
		}
	}
	return out
}

// Mapping translates partition-value tuples between two partition layouts,
// e.g. daily input partitions to monthly output partitions. A nil Mapping is
// the identity.
type Mapping func(Values) Values

// Compose chains mappings left to right; nil entries are skipped.
func Compose(ms ...Mapping) Mapping {
	return func(v Values) Values {
		for _, m := range ms {
			if m != nil {
				v = m(v)
			}
		}
		return v
	}
}

// Apply maps every tuple and drops duplicates produced by many-to-one
// mappings.
func Apply(m Mapping, in []Values) []Values {
	if m == nil {
		return in
	}
	out := make([]Values, 0, len(in))
	for _, pv := range in {
		out = append(out, m(pv))
	}
	return Dedup(out)
}

// ValidateKeys fails when a tuple references a partition column the data
// object does not declare. Tuples covering a subset of cols are fine (partial
// partition specs are resolved later against the catalog).
func ValidateKeys(pvs []Values, cols []string) error {
	declared := map[string]bool{}
	for _, c := range cols {
		declared[c] = true
	}
	for _, pv := range pvs {
		for k := range pv {
			if !declared[k] {
				return fmt.Errorf("partition key %q not defined (declared columns: %s)", k, strings.Join(cols, ","))
			}
		}
	}
	return nil
}

// IsPartial reports whether pv specifies a strict subset of cols.
func IsPartial(pv Values, cols []string) bool {
	if len(pv) == 0 || len(pv) >= len(cols) {
		return false
	}
	for k := range pv {
		found := false
		for _, c := range cols {
			if c == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
