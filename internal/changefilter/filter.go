// Package changefilter decides which fetched entities changed since the last run.
package changefilter

import (
	"time"

	"github.com/araddon/dateparse"
	"github.com/spf13/cast"

	"github.com/faciam-dev/cssync/internal/registry"
	"github.com/faciam-dev/cssync/internal/source"
)

// Unit is the native representation of a source's timestamps.
type Unit int

const (
	// UnixSeconds timestamps are integer seconds since the epoch.
	UnixSeconds Unit = iota
	// SQLTime timestamps are driver time values or date strings.
	SQLTime
)

// Policy lists the candidate modification fields of an entity in priority
// order and the unit they are expressed in.
type Policy struct {
	Fields []string
	Unit   Unit
}

// Result partitions a batch.
type Result struct {
	Kept    []source.Entity
	Skipped int
}

// PolicyFor returns the timestamp policy for an entity type of kind.
func PolicyFor(kind registry.Kind, entityType string) Policy {
	switch kind {
	case registry.KindBilling:
		if entityType == "invoice" {
			// invoices do not always carry updated_at
			return Policy{Fields: []string{"updated_at", "paid_at", "date"}, Unit: UnixSeconds}
		}
		return Policy{Fields: []string{"updated_at"}, Unit: UnixSeconds}
	default:
		return Policy{Fields: []string{"updated_at", "modified_at", "last_updated"}, Unit: SQLTime}
	}
}

// Filter keeps every entity on a first or non-incremental run. Otherwise an
// entity is kept when its first determinable timestamp is at or after
// lastSyncedAt, or when it has none.
func Filter(entities []source.Entity, lastSyncedAt *time.Time, incremental bool, p Policy) Result {
	if lastSyncedAt == nil || !incremental {
		return Result{Kept: entities}
	}
	res := Result{Kept: make([]source.Entity, 0, len(entities))}
	for _, e := range entities {
		if changedSince(e, *lastSyncedAt, p) {
			res.Kept = append(res.Kept, e)
			continue
		}
		res.Skipped++
	}
	return res
}

func changedSince(e source.Entity, since time.Time, p Policy) bool {
	switch p.Unit {
	case UnixSeconds:
		ts, ok := UnixTimestamp(e, p.Fields)
		if !ok {
			return true
		}
		return ts >= since.Unix()
	default:
		ts, ok := Timestamp(e, p.Fields)
		if !ok {
			return true
		}
		return !ts.Before(since)
	}
}

// UnixTimestamp returns the first positive integer timestamp among fields.
func UnixTimestamp(e source.Entity, fields []string) (int64, bool) {
	for _, f := range fields {
		v, ok := e[f]
		if !ok || v == nil {
			continue
		}
		n, err := cast.ToInt64E(v)
		if err != nil || n <= 0 {
			continue
		}
		return n, true
	}
	return 0, false
}

// Timestamp returns the first parseable time among fields.
func Timestamp(e source.Entity, fields []string) (time.Time, bool) {
	for _, f := range fields {
		v, ok := e[f]
		if !ok || v == nil {
			continue
		}
		if ts, ok := toTime(v); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		if t == "" {
			return time.Time{}, false
		}
		ts, err := dateparse.ParseIn(t, time.UTC)
		return ts, err == nil
	}
	ts, err := cast.ToTimeE(v)
	if err != nil || ts.IsZero() {
		return time.Time{}, false
	}
	return ts, true
}
