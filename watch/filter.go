package watch

import (
	"bytes"
	"fmt"

	"github.com/tarantool/go-option"
)

type MatchKind int

const (
	MatchAll MatchKind = iota
	MatchExact
	MatchPrefix
)

func (v MatchKind) String() string {
	switch v {
	case MatchAll:
		return "all"
	case MatchExact:
		return "exact"
	case MatchPrefix:
		return "prefix"
	default:
		return fmt.Sprintf("invalid match kind %d", int(v))
	}
}

// TableFilter selects the events a watcher receives.
//
// Table is always the primary table name of the watched type. Index is empty
// to match on primary keys, or the secondary table name to match on the keys
// the affected items have in that index.
type TableFilter struct {
	Table string
	Index string
	Match MatchKind
	Value []byte
}

func newFilter(table, index string, key option.Generic[[]byte]) TableFilter {
	f := TableFilter{Table: table, Index: index, Match: MatchAll}
	if key.IsSome() {
		f.Match = MatchExact
		f.Value = key.UnwrapOr(nil)
	}
	return f
}

// NewPrimary matches all events of the table when key is None, or events on
// the given primary key otherwise.
func NewPrimary(table string, key option.Generic[[]byte]) TableFilter {
	return newFilter(table, "", key)
}

func NewPrimaryStartWith(table string, prefix []byte) TableFilter {
	return TableFilter{Table: table, Match: MatchPrefix, Value: prefix}
}

// NewSecondary matches events whose items have a key in the given index when
// key is None, or whose items have exactly the given key otherwise.
func NewSecondary(table, index string, key option.Generic[[]byte]) TableFilter {
	return newFilter(table, index, key)
}

func NewSecondaryStartWith(table, index string, prefix []byte) TableFilter {
	return TableFilter{Table: table, Index: index, Match: MatchPrefix, Value: prefix}
}

// Matches reports whether ev passes the filter. An Update matches if either
// its old or its new item does, so a watcher on a key sees the item both
// moving away from and onto that key.
func (f TableFilter) Matches(ev Event) bool {
	if ev.TableName() != f.Table {
		return false
	}
	if f.Index == "" && f.Match == MatchAll {
		return true
	}
	for _, k := range ev.keys(f.Index) {
		switch f.Match {
		case MatchAll:
			return true
		case MatchExact:
			if bytes.Equal(k, f.Value) {
				return true
			}
		case MatchPrefix:
			if bytes.HasPrefix(k, f.Value) {
				return true
			}
		}
	}
	return false
}

func (f TableFilter) String() string {
	target := f.Table
	if f.Index != "" {
		target += "." + f.Index
	}
	if f.Match == MatchAll {
		return target + "/*"
	}
	return fmt.Sprintf("%s/%s:%x", target, f.Match, f.Value)
}
