package structdb

import (
	"reflect"
	"sort"
	"sync"
)

// KeyDefinition names a secondary index.
type KeyDefinition interface {
	SecondaryTableName() string
}

// KeyDef is the simplest KeyDefinition: the secondary table name itself.
type KeyDef string

func (k KeyDef) SecondaryTableName() string {
	return string(k)
}

// Schema describes the tables backing one item type.
type Schema struct {
	TableName     string
	SecondaryKeys []KeyDefinition
}

func (s Schema) SecondaryTableNames() []string {
	names := make([]string, len(s.SecondaryKeys))
	for i, def := range s.SecondaryKeys {
		names[i] = def.SecondaryTableName()
	}
	return names
}

// Item is implemented by every type stored in a structdb table.
//
// DBSchema must not depend on the receiver's contents; it is called on zero
// values. SecondaryKey is called once per key listed in the schema; returning
// nil, nil means the item has no entry in that index.
//
// The payload is produced by codec.Marshal, so items are MsgPack-encoded
// unless they implement codec.Marshaler and codec.Unmarshaler.
type Item interface {
	DBSchema() Schema
	PrimaryKey() ([]byte, error)
	SecondaryKey(def KeyDefinition) ([]byte, error)
}

type itemPtr[T any] interface {
	*T
	Item
}

func schemaOf[T any, P itemPtr[T]]() Schema {
	var zero T
	return P(&zero).DBSchema()
}

// newItemLike returns a pointer to a new zero value of item's type, suitable
// for decoding a stored payload, and a function returning it as an Item.
func newItemLike(item Item) (any, func() Item) {
	t := reflect.TypeOf(item)
	if t.Kind() == reflect.Ptr {
		v := reflect.New(t.Elem())
		return v.Interface(), func() Item { return v.Interface().(Item) }
	}
	v := reflect.New(t)
	return v.Interface(), func() Item { return v.Elem().Interface().(Item) }
}

// tableDef binds a logical table name to the engine bucket holding it.
type tableDef struct {
	name   string
	bucket string
	schema Schema // schema that registered the table
}

type schemaRegistry struct {
	mu     sync.RWMutex
	tables map[string]tableDef
}

func newSchemaRegistry() *schemaRegistry {
	return &schemaRegistry{tables: make(map[string]tableDef)}
}

// define registers the primary table and all secondary tables of s,
// overwriting previous registrations of the same names.
func (reg *schemaRegistry) define(s Schema) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.tables[s.TableName] = tableDef{name: s.TableName, bucket: s.TableName, schema: s}
	for _, name := range s.SecondaryTableNames() {
		reg.tables[name] = tableDef{name: name, bucket: name, schema: s}
	}
}

func (reg *schemaRegistry) lookup(name string) (tableDef, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	def, ok := reg.tables[name]
	return def, ok
}

// primarySchemas returns the schemas of all registered primary tables,
// sorted by table name.
func (reg *schemaRegistry) primarySchemas() []Schema {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	var result []Schema
	for name, def := range reg.tables {
		if def.schema.TableName == name {
			result = append(result, def.schema)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TableName < result[j].TableName
	})
	return result
}
