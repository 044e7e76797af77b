package fastls

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpHeaders = DumpFlags(1 << iota)
	DumpEntries
	DumpStats
	DumpQuotas

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the database for debugging and tests.
func (db *DB) Dump(ctx context.Context, f DumpFlags) (string, error) {
	m, err := db.load(ctx)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	if f.Contains(DumpHeaders) {
		fmt.Fprintln(&buf, dumpSep1)
		fmt.Fprintf(&buf, "%s (%d keys, %d bytes)\n", db.name, len(m), m.ByteSize())
	}
	if f.Contains(DumpStats) {
		st, err := db.Stats(ctx)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&buf, "%s.stats: folders = %d, shortcuts = %d, functions = %d, alloc = %d\n", db.name, st.Folders, st.Shortcuts, st.Functions, st.Alloc)
	}
	if f.Contains(DumpQuotas) {
		db.dumpQuotas(&buf)
	}

	if f.Contains(DumpEntries) {
		if f.Contains(DumpStats) || f.Contains(DumpQuotas) {
			fmt.Fprintln(&buf, dumpSep2)
		}
		keys := sortedKeys(m)
		width := 0
		for _, k := range keys {
			width = max(width, len(k))
		}
		for _, k := range keys {
			v, err := db.codec.DecodeValue(m[k])
			if err != nil {
				fmt.Fprintf(&buf, "%s = ** ERROR: %v\n", rpad(k, width, ' '), err)
				continue
			}
			fmt.Fprintf(&buf, "%s = %s\n", rpad(k, width, ' '), loggableValue(v))
		}
	}
	return buf.String(), nil
}

func (db *DB) dumpQuotas(w *strings.Builder) {
	db.mu.Lock()
	defer db.mu.Unlock()
	q := &db.quota
	if q.hasGlobal {
		fmt.Fprintf(w, "%s.quota = %d\n", db.name, q.global)
	}
	for _, folder := range sortedQuotaFolders(q.folders) {
		fmt.Fprintf(w, "%s.quota[%s] = %d\n", db.name, folder, q.folders[folder])
	}
	fmt.Fprintf(w, "%s.quota.last = %v\n", db.name, q.last)
}

func loggableValue(v Value) string {
	switch v.kind {
	case KindUndefined:
		return "<undefined>"
	case KindShortcut:
		return "-> " + v.s
	}
	return string(must(json.Marshal(v)))
}
