/*
Command fastls reads and writes a fastls database from the shell.

Usage:

	fastls [flags] <command> [args]

Commands:

	get <path> [<sub>]            Print the value at path (JSON)
	raw <path>                    Print the stored value without following shortcuts
	set <path> [<sub>] <json>     Store a JSON value
	rm <path> [<sub>]             Delete a key, or a sub-path inside it
	rmdir <folder> <strategy>     Remove a folder: folder, root, structure, nestedFolders
	ls [<folder>]                 List keys
	find <folder> <text>          Print locations whose value or key contains text
	shortcut <name> <target>      Make name an alias of target
	dump                          Print the whole database
	stats                         Print size statistics
	dbs                           List databases
	drop <name>                   Drop a database
	history                       Print the change journal
	restore <file>                Rebuild every database from the journal into a blob file

Environment variables (also read from .env):

	FASTLS_BACKEND            memory, bolt or dynamodb (default bolt)
	FASTLS_PATH               blob file (memory) or database file (bolt)
	FASTLS_DATABASE           database name (default "default")
	FASTLS_TABLE              DynamoDB table (default "fastls")
	FASTLS_JOURNAL            directory of the change journal (disabled if empty)
	FASTLS_CASE_INSENSITIVE   case-insensitive keys
	FASTLS_COMPRESS           gzip the memory blob
	FASTLS_VERBOSE            debug logging

The dynamodb backend takes credentials and region from the usual AWS
configuration sources.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/JOrE20/fastls"
	"github.com/JOrE20/fastls/journal"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fastls: %v\n", err)
		os.Exit(1)
	}

	fs := flag.NewFlagSet("fastls", flag.ExitOnError)
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "storage backend: memory, bolt, dynamodb")
	fs.StringVar(&cfg.Path, "path", cfg.Path, "blob or database file")
	fs.StringVar(&cfg.Database, "db", cfg.Database, "database name")
	fs.StringVar(&cfg.Table, "table", cfg.Table, "DynamoDB table")
	fs.StringVar(&cfg.Journal, "journal", cfg.Journal, "change journal directory")
	fs.BoolVar(&cfg.CaseInsensitive, "i", cfg.CaseInsensitive, "case-insensitive keys")
	fs.BoolVar(&cfg.Compress, "z", cfg.Compress, "gzip the memory blob")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "verbose output")
	quota := fs.Int64("quota", 0, "global byte budget for writes (0 = none)")
	fs.Parse(os.Args[1:])

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "fastls: %v\n", err)
		os.Exit(2)
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()
	err = run(ctx, cfg, logger, *quota, fs.Args(), os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fastls: %v\n", err)
		os.Exit(1)
	}
}

func openBackend(ctx context.Context, cfg *Config, logger *slog.Logger) (fastls.Backend, func() error, error) {
	backend, persist, err := openBaseBackend(ctx, cfg)
	if err != nil || cfg.Journal == "" {
		return backend, persist, err
	}
	j := journal.New(cfg.Journal, journal.Options{
		FileName:  "fastls-*.wal",
		DebugName: "fastls",
		Logger:    logger,
		Verbose:   cfg.Verbose,
	})
	jb, err := fastls.NewJournalBackend(backend, j)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	return jb, persist, nil
}

func openBaseBackend(ctx context.Context, cfg *Config) (fastls.Backend, func() error, error) {
	switch cfg.Backend {
	case "memory":
		codec := fastls.Codec{Compress: cfg.Compress}
		var mem *fastls.MemoryBackend
		blob, err := os.ReadFile(cfg.Path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			mem = fastls.NewMemoryBackend()
			mem.SetCodec(codec)
		case err != nil:
			return nil, nil, err
		default:
			mem, err = fastls.NewMemoryBackendFromBlob(blob, codec)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", cfg.Path, err)
			}
		}
		persist := func() error {
			blob, err := mem.Export()
			if err != nil {
				return err
			}
			return os.WriteFile(cfg.Path, blob, 0o666)
		}
		return mem, persist, nil

	case "bolt":
		b, err := fastls.OpenBolt(cfg.Path, fastls.BoltOptions{})
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil

	case "dynamodb":
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return fastls.NewDynamoBackend(dynamodb.NewFromConfig(awsCfg), cfg.Table), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger, quota int64, args []string, w io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command (get, raw, set, rm, rmdir, ls, find, shortcut, dump, stats, dbs, drop, history, restore)")
	}

	backend, persist, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	db, err := fastls.Open(ctx, backend, cfg.Database, fastls.Options{
		CaseInsensitive: cfg.CaseInsensitive,
		Logger:          logger,
		Verbose:         cfg.Verbose,
	})
	if err != nil {
		return err
	}
	if quota > 0 {
		if err := db.SetQuota(quota); err != nil {
			return err
		}
	}

	cmd, args := args[0], args[1:]
	modified, err := execute(ctx, db, cfg, cmd, args, w)
	if err != nil {
		return err
	}
	if modified && persist != nil {
		return persist()
	}
	return nil
}

func execute(ctx context.Context, db *fastls.DB, cfg *Config, cmd string, args []string, w io.Writer) (bool, error) {
	switch cmd {
	case "get":
		if err := needArgs(cmd, args, 1, 2); err != nil {
			return false, err
		}
		v, err := db.GetAt(ctx, args[0], optArg(args, 1))
		if err != nil {
			return false, err
		}
		fmt.Fprintln(w, formatValue(v))
		return false, nil

	case "raw":
		if err := needArgs(cmd, args, 1, 1); err != nil {
			return false, err
		}
		v, err := db.GetRaw(ctx, args[0])
		if err != nil {
			return false, err
		}
		fmt.Fprintln(w, formatValue(v))
		return false, nil

	case "set":
		if err := needArgs(cmd, args, 2, 3); err != nil {
			return false, err
		}
		var sub string
		if len(args) == 3 {
			sub = args[1]
		}
		v, err := fastls.FromJSON([]byte(args[len(args)-1]))
		if err != nil {
			return false, fmt.Errorf("invalid JSON value: %w", err)
		}
		if err := db.SetAt(ctx, args[0], sub, v); err != nil {
			return false, err
		}
		if st := db.QuotaStatus(); st != fastls.QuotaNone {
			fmt.Fprintf(w, "quota: %v\n", st)
		}
		return true, nil

	case "rm":
		if err := needArgs(cmd, args, 1, 2); err != nil {
			return false, err
		}
		return true, db.RemoveAt(ctx, args[0], optArg(args, 1))

	case "rmdir":
		if err := needArgs(cmd, args, 2, 2); err != nil {
			return false, err
		}
		return true, db.Remove(ctx, fastls.Removal{Path: args[0], Strategy: fastls.Strategy(args[1])})

	case "ls":
		if err := needArgs(cmd, args, 0, 1); err != nil {
			return false, err
		}
		keys, err := db.List(ctx, optArg(args, 0))
		if err != nil {
			return false, err
		}
		for _, k := range keys {
			fmt.Fprintln(w, displayKey(k))
		}
		return false, nil

	case "find":
		if err := needArgs(cmd, args, 2, 2); err != nil {
			return false, err
		}
		needle := args[1]
		locs, err := db.FindPath(ctx, args[0], func(v fastls.Value) bool {
			return v.Kind() == fastls.KindString && strings.Contains(v.AsString(), needle)
		}, true)
		if err != nil {
			return false, err
		}
		for _, loc := range locs {
			fmt.Fprintln(w, loc)
		}
		return false, nil

	case "shortcut":
		if err := needArgs(cmd, args, 2, 2); err != nil {
			return false, err
		}
		return true, db.SetShortcut(ctx, args[0], args[1])

	case "dump":
		s, err := db.Dump(ctx, fastls.DumpAll)
		if err != nil {
			return false, err
		}
		fmt.Fprint(w, s)
		return false, nil

	case "stats":
		st, err := db.Stats(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(w, "keys = %d\nbytes = %d\nfolders = %d\nshortcuts = %d\nfunctions = %d\n", st.Keys, st.Bytes, st.Folders, st.Shortcuts, st.Functions)
		if st.Alloc != 0 {
			fmt.Fprintf(w, "alloc = %d\ninuse = %d\n", st.Alloc, st.InUse)
		}
		return false, nil

	case "dbs":
		names, err := db.ListDatabases(ctx)
		if err != nil {
			return false, err
		}
		for _, name := range names {
			fmt.Fprintln(w, name)
		}
		return false, nil

	case "drop":
		if err := needArgs(cmd, args, 1, 1); err != nil {
			return false, err
		}
		return true, db.DropDatabase(ctx, args[0])

	case "history":
		j, err := journalOf(db)
		if err != nil {
			return false, err
		}
		return false, fastls.ReadHistory(j, func(e fastls.HistoryEntry) error {
			for _, chg := range e.Changes {
				fmt.Fprintf(w, "%d\t%s\t%v\n", e.ID, e.Time.Format(time.RFC3339), chg)
			}
			return nil
		})

	case "restore":
		if err := needArgs(cmd, args, 1, 1); err != nil {
			return false, err
		}
		j, err := journalOf(db)
		if err != nil {
			return false, err
		}
		mem := fastls.NewMemoryBackend()
		mem.SetCodec(fastls.Codec{Compress: cfg.Compress})
		n, err := fastls.Replay(ctx, j, mem)
		if err != nil {
			return false, err
		}
		blob, err := mem.Export()
		if err != nil {
			return false, err
		}
		if err := os.WriteFile(args[0], blob, 0o666); err != nil {
			return false, err
		}
		fmt.Fprintf(w, "replayed %d records into %s\n", n, args[0])
		return false, nil
	}
	return false, fmt.Errorf("unknown command %q", cmd)
}

func journalOf(db *fastls.DB) (*journal.Journal, error) {
	jb, ok := db.Backend().(*fastls.JournalBackend)
	if !ok {
		return nil, fmt.Errorf("no change journal configured (use -journal or FASTLS_JOURNAL)")
	}
	return jb.Journal(), nil
}

func needArgs(cmd string, args []string, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		if lo == hi {
			return fmt.Errorf("%s takes %d argument(s), got %d", cmd, lo, len(args))
		}
		return fmt.Errorf("%s takes %d to %d arguments, got %d", cmd, lo, hi, len(args))
	}
	return nil
}

func optArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func formatValue(v fastls.Value) string {
	if v.IsUndefined() {
		return "undefined"
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return v.String()
	}
	return string(data)
}

// displayKey turns a canonical key into a rooted path.
func displayKey(key string) string {
	return "/" + strings.ReplaceAll(key, string(fastls.Separator), string(fastls.PathSeparator))
}
