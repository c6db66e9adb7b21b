/*
Package structdb stores Go structs in tables on top of an ordered key-value
engine (Bolt by default; Badger, Pebble and an in-memory B-tree are available
under kv/).

We implement:

1. Tables, collections of items keyed by a primary key the item computes
itself. Payloads are MsgPack unless the type implements codec.Marshaler.

2. Secondary indexes, one table per index key definition, maintained
automatically by Insert, Update and Remove.

3. Watchers, which receive the committed changes of a table, filtered by
primary or secondary key (exact, prefix or any).

# Technical Details

**Buckets.**
Every table, primary or secondary, lives in its own engine bucket named after
the table. Bolt supports buckets natively; flat engines prefix each key with
the uvarint-encoded bucket name length followed by the name.

**Secondary entries.**
A secondary table is a multimap. Each item contributes one entry per index it
has a key in:

	key   = escape(secondary key) 0x00 0x01 primary key
	value = primary key

where escape turns each 0x00 byte into 0x00 0xFF. Distinct (secondary key,
primary key) pairs never share an entry, entries sort by secondary key and then
by primary key, and lookups by exact key or prefix are a single ordered scan.

**Events.**
A write transaction records an event per mutation. Nothing is delivered until
the engine commit succeeds; then the whole batch is dispatched in mutation
order, and batches of different transactions are dispatched in commit order.
Each watcher owns an unbounded queue, so committing never blocks on a slow
consumer.

**Watcher ids.**
Ids are assigned sequentially from 0 and never reused. When the id space is
exhausted, registering a watcher fails with ErrWatcherLimit.
*/
package structdb
