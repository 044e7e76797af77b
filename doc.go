/*
Package fastls implements a hierarchical, path-addressable data store on top
of a flat key-value backend.

A database is a single flat map from string keys to encoded values. Keys are
folder paths: "/users/alice" is stored under the key `users\alice`, and
everything whose key starts with `users\` lives in the users folder. Values
are JSON-like trees (see Value) that can be read and written in place with a
dot/bracket sub-path such as "items[2].name".

We implement:

1. Path handling: relative paths resolve against the current folder (Cd),
".." navigates up, and a "name:" prefix addresses another database of the
same backend.

2. Nested get/set/delete inside a stored tree.

3. Folder removal strategies (Remove): the whole folder, only its direct
children, only its nested folders, or emptying values while keeping the keys.

4. Byte quotas per database and per folder, checked before every write.

5. Shortcuts: an entry that stands for another path, followed on reads.

# Technical Details

**Load, mutate, save.**
Every operation loads the whole flat map from the backend, changes it in
memory and saves it back. There is no locking across operations; the last
save wins.

**Backends.**
MemoryBackend keeps maps in process memory and can export them as a single
checksummed blob. BoltBackend keeps one bucket per database in a Bolt file.
DynamoBackend keeps one item per key in a DynamoDB table. Backends that can
block report Suspends() == true; DB.Async runs their calls on goroutines.
JournalBackend wraps any of them and records every change in a journal
(package journal) before saving; Replay rebuilds the databases from it.

## Binary encoding

**Values** are msgpack. Shortcuts, function placeholders and array holes use
msgpack extension types 1, 2 and 3 with the target or signature as payload.

**Exported maps** are a msgpack map of key to encoded value, optionally
gzipped. Blobs are "FLSB", a version byte, the xxhash64 of the payload
(little endian) and then the payload: a msgpack map of database name to
exported map.

**Sizes.**
An entry takes len(encoded value) bytes; keys are not counted. Quotas compare
the sum of entry sizes in a folder or database against the budget.
*/
package fastls
