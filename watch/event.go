// Package watch provides change notification for structdb tables: events,
// filters, the per-transaction batch and the registry that fans committed
// events out to watchers.
package watch

import (
	"fmt"

	"github.com/andreyvit/structdb/codec"
)

// Event is a committed change. It is one of Insert, Update or Delete.
//
// Events are shared between all watchers that receive them and must be
// treated as read-only.
type Event interface {
	TableName() string
	fmt.Stringer

	// keys returns the keys the event touches under the given index, or the
	// primary keys for index "".
	keys(index string) [][]byte
}

// Insert reports that an item was stored under Key.
type Insert struct {
	Table         string
	Key           []byte
	Value         []byte
	SecondaryKeys map[string][]byte
}

// Inner decodes the inserted item into v.
func (e Insert) Inner(v any) error {
	return codec.Unmarshal(e.Value, v)
}

func (e Insert) TableName() string { return e.Table }

func (e Insert) String() string {
	return fmt.Sprintf("insert %s/%x", e.Table, e.Key)
}

func (e Insert) keys(index string) [][]byte {
	return itemKeys(index, e.Key, e.SecondaryKeys)
}

// Update reports that the item stored under OldKey was replaced by the item
// under NewKey. The keys differ when the update changed the primary key.
type Update struct {
	Table            string
	OldKey           []byte
	OldValue         []byte
	OldSecondaryKeys map[string][]byte
	NewKey           []byte
	NewValue         []byte
	NewSecondaryKeys map[string][]byte
}

// InnerOld decodes the item as it was before the update.
func (e Update) InnerOld(v any) error {
	return codec.Unmarshal(e.OldValue, v)
}

// InnerNew decodes the item as it is after the update.
func (e Update) InnerNew(v any) error {
	return codec.Unmarshal(e.NewValue, v)
}

func (e Update) TableName() string { return e.Table }

func (e Update) String() string {
	return fmt.Sprintf("update %s/%x => %x", e.Table, e.OldKey, e.NewKey)
}

func (e Update) keys(index string) [][]byte {
	return append(itemKeys(index, e.OldKey, e.OldSecondaryKeys), itemKeys(index, e.NewKey, e.NewSecondaryKeys)...)
}

// Delete reports that the item stored under Key was removed.
type Delete struct {
	Table         string
	Key           []byte
	Value         []byte
	SecondaryKeys map[string][]byte
}

// Inner decodes the removed item into v.
func (e Delete) Inner(v any) error {
	return codec.Unmarshal(e.Value, v)
}

func (e Delete) TableName() string { return e.Table }

func (e Delete) String() string {
	return fmt.Sprintf("delete %s/%x", e.Table, e.Key)
}

func (e Delete) keys(index string) [][]byte {
	return itemKeys(index, e.Key, e.SecondaryKeys)
}

func itemKeys(index string, primary []byte, secondary map[string][]byte) [][]byte {
	if index == "" {
		return [][]byte{primary}
	}
	if k, ok := secondary[index]; ok {
		return [][]byte{k}
	}
	return nil
}
