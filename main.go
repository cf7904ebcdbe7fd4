package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-chi/chi/v5"
	"github.com/roamiiing/vibetabber/internal/analyzer"
	"github.com/roamiiing/vibetabber/internal/api"
	"github.com/roamiiing/vibetabber/internal/applog"
	"github.com/roamiiing/vibetabber/internal/cdp"
	"github.com/roamiiing/vibetabber/internal/config"
	"github.com/roamiiing/vibetabber/internal/export"
	"github.com/roamiiing/vibetabber/internal/host"
	"github.com/roamiiing/vibetabber/internal/server"
	"github.com/roamiiing/vibetabber/internal/snapshot"
	"github.com/roamiiing/vibetabber/internal/storage"
	"github.com/roamiiing/vibetabber/internal/tabstore"
	"github.com/roamiiing/vibetabber/internal/types"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "list":
			runList(os.Args[2:])
			return
		case "export":
			runExport(os.Args[2:])
			return
		case "snapshot":
			runSnapshot(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
	runServe(nil)
}

func printHelp() {
	fmt.Print(`vibetabber — vertical tab sidebar engine

Usage:
  vibetabber serve                                 Sync the sidebar with the browser (default)
    --config <file>        Config file (default: ~/.config/vibetabber/config.toml)
    --host <ws|cdp>        Browser connection: extension WebSocket or DevTools (default: ws)
    --port <n>             WebSocket port for the extension (default: 19191)
    --cdp-url <url>        DevTools endpoint for --host cdp (default: ws://127.0.0.1:9222)
    --db <file>            Database path (default: ~/.local/share/vibetabber/vibetabber.db)
    --ephemeral            Keep tabs in memory only

  vibetabber list [--db <file>]                    Show the saved sidebar

  vibetabber export                                Export the saved sidebar
    --json                 Export as JSON instead of markdown
    --out <file>           Output file path (default: stdout)
    --db <file>            Database path

  vibetabber snapshot [--label "text"]             Snapshot the sidebar (only if changed)
  vibetabber snapshot list                         List saved snapshots
  vibetabber snapshot diff [rev]                   Compare a snapshot with the sidebar
  vibetabber snapshot delete <rev> [--yes]         Delete a snapshot
  vibetabber snapshot restore <rev> [--yes]        Replace the sidebar with a snapshot
    (all snapshot commands accept --db <file>)

Environment:
  VIBETABBER_HOST, VIBETABBER_PORT, VIBETABBER_CDP_URL, VIBETABBER_DB,
  VIBETABBER_LOG_DIR, VIBETABBER_WRITE_DELAY, VIBETABBER_NEW_TAB_URLS
                         Override the config file; flags override both.
`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	hostMode := fs.String("host", "", "Browser connection: ws or cdp")
	port := fs.Int("port", 0, "WebSocket port for the extension")
	cdpURL := fs.String("cdp-url", "", "DevTools endpoint for --host cdp")
	dbPath := fs.String("db", "", "Database path")
	ephemeral := fs.Bool("ephemeral", false, "Keep tabs in memory only")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("Error loading config: %v\n", err)
	}
	if *hostMode != "" {
		if err := cfg.SetHost(*hostMode); err != nil {
			fatalf("Error: %v\n", err)
		}
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *cdpURL != "" {
		cfg.CDPURL = *cdpURL
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	if err := applog.Init(cfg.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
	defer applog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var kv storage.KV
	if *ephemeral {
		kv = storage.NewMemory()
	} else {
		db, err := storage.OpenDB(cfg.DBPath)
		if err != nil {
			fatalf("Error opening database: %v\n", err)
		}
		defer db.Close()
		kv = storage.NewSQLite(db)
	}

	h, shutdown, err := connectHost(ctx, cfg)
	if err != nil {
		fatalf("Error: %v\n", err)
	}
	defer shutdown()

	sessions := tabstore.NewSessions(h, kv, cfg.WriteDelay, tabstore.Options{
		NewTabURLs:  cfg.NewTabURLs,
		RebindByURL: cfg.Host == config.HostCDP,
	})
	current := func() api.Store {
		if s := sessions.Current(); s != nil {
			return s
		}
		return nil
	}

	router := chi.NewRouter()
	router.Mount("/api", api.Router(current, nil))
	srv, bridged := h.(*server.Server)
	if bridged {
		router.Handle("/", srv.Handler())
	}
	go func() {
		if err := server.Serve(ctx, cfg.Port, router); err != nil {
			applog.Error("serve.listen", err, "port", cfg.Port)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			stop()
		}
	}()
	applog.Info("serve.started", "host", cfg.Host, "port", cfg.Port, "log", cfg.LogPath())

	if !bridged {
		fmt.Fprintf(os.Stderr, "Syncing tabs (API on http://127.0.0.1:%d/api). Press Ctrl-C to stop.\n", cfg.Port)
		reportSession(sessions.Run(ctx, nil))
		applog.Info("serve.stopped")
		return
	}

	// Each extension connection is a browser session of its own: a browser
	// that quits and starts again is restored again.
	for ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Waiting for browser extension on port %d...\n", cfg.Port)
		if err := srv.WaitConnected(ctx); err != nil {
			break
		}
		ended := srv.Disconnected()
		fmt.Fprintf(os.Stderr, "Extension connected (API on http://127.0.0.1:%d/api). Press Ctrl-C to stop.\n", cfg.Port)

		err := sessions.Run(ctx, ended)
		reportSession(err)
		if errors.Is(err, tabstore.ErrShutdown) {
			// The extension stays connected until the browser has exited.
			select {
			case <-ended:
			case <-ctx.Done():
			}
		}
	}
	applog.Info("serve.stopped")
}

func reportSession(err error) {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, tabstore.ErrShutdown):
		fmt.Fprintln(os.Stderr, "Browser shut down.")
	default:
		applog.Error("serve.session", err)
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// connectHost creates the configured browser connection. The extension
// bridge only becomes usable once the extension dials in.
func connectHost(ctx context.Context, cfg config.Config) (host.Host, func(), error) {
	if cfg.Host == config.HostCDP {
		fmt.Fprintf(os.Stderr, "Connecting to browser at %s...\n", cfg.CDPURL)
		ch, err := cdp.Dial(ctx, cfg.CDPURL)
		if err != nil {
			return nil, nil, err
		}
		return ch, ch.Shutdown, nil
	}
	return server.New(cfg.Port), func() {}, nil
}

// openDB opens the database at flagPath, or the configured one.
func openDB(flagPath string) (*sql.DB, error) {
	path := flagPath
	if path == "" {
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		path = cfg.DBPath
	}
	return storage.OpenDB(path)
}

func readSaved(dbFlag string) types.StoredTabs {
	db, err := openDB(dbFlag)
	if err != nil {
		fatalf("Error opening database: %v\n", err)
	}
	defer db.Close()

	stored, err := tabstore.ReadStored(context.Background(), storage.NewSQLite(db))
	if err != nil {
		fatalf("Error reading tabs: %v\n", err)
	}
	return stored
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database path")
	fs.Parse(args)

	fmt.Print(renderList(readSaved(*dbPath)))
}

func renderList(stored types.StoredTabs) string {
	headerStyle := lipgloss.NewStyle().Bold(true)
	pinStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	dupStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("203"))

	if stored.Len() == 0 {
		return dimStyle.Render("No saved tabs.") + "\n"
	}

	dupes := analyzer.Duplicates(append(append([]*types.Tab{}, stored.Pinned...), stored.Unpinned...))

	var b strings.Builder
	section := func(name string, tabs []*types.Tab) {
		if len(tabs) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s\n", headerStyle.Render(fmt.Sprintf("%s (%d)", name, len(tabs))))
		for _, t := range tabs {
			title := t.DisplayTitle()
			if title == "" {
				title = t.URL
			}
			marker := "  "
			if t.IsPinned {
				marker = pinStyle.Render("▪ ")
			}
			line := fmt.Sprintf("%s%s  %s", marker, title, dimStyle.Render(t.URL))
			if len(dupes[t.ID]) > 0 {
				line += " " + dupStyle.Render("(dup)")
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}
	section("Pinned", stored.Pinned)
	section("Tabs", stored.Unpinned)
	return b.String()
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "Export as JSON instead of markdown")
	outPath := fs.String("out", "", "Output file path (default: stdout)")
	dbPath := fs.String("db", "", "Database path")
	fs.Parse(args)

	stored := readSaved(*dbPath)

	var output string
	if *jsonFlag {
		var err error
		output, err = export.JSON(stored)
		if err != nil {
			fatalf("Error: %v\n", err)
		}
	} else {
		output = export.Markdown(stored)
	}

	if *outPath != "" {
		if err := os.WriteFile(*outPath, []byte(output), 0o644); err != nil {
			fatalf("Error writing file: %v\n", err)
		}
		fmt.Fprintf(os.Stderr, "Exported %d tabs to %s\n", stored.Len(), *outPath)
	} else {
		fmt.Print(output)
	}
}

// reorderArgs moves flag arguments before positional arguments so that
// flag.Parse handles them correctly (it stops at the first non-flag arg).
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			if !strings.Contains(args[i], "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && !isBoolFlag(args[i]) {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}

func isBoolFlag(arg string) bool {
	name := strings.TrimLeft(arg, "-")
	return name == "yes" || name == "json" || name == "ephemeral"
}

func runSnapshot(args []string) {
	// If no args or first arg is a flag, it's the auto-create flow.
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		runSnapshotCreate(args)
		return
	}

	subcmd := args[0]
	subArgs := args[1:]

	switch subcmd {
	case "create":
		runSnapshotCreate(subArgs)
	case "list":
		runSnapshotList(subArgs)
	case "diff":
		runSnapshotDiff(subArgs)
	case "delete":
		runSnapshotDelete(subArgs)
	case "restore":
		runSnapshotRestore(subArgs)
	default:
		fatalf("Unknown snapshot command %q. Use create, list, diff, delete, or restore.\n", subcmd)
	}
}

func runSnapshotCreate(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	label := fs.String("label", "", "Optional label for the snapshot")
	dbPath := fs.String("db", "", "Database path")
	fs.Parse(args)

	db, err := openDB(*dbPath)
	if err != nil {
		fatalf("Error opening database: %v\n", err)
	}
	defer db.Close()

	stored, err := tabstore.ReadStored(context.Background(), storage.NewSQLite(db))
	if err != nil {
		fatalf("Error reading tabs: %v\n", err)
	}

	rev, created, diff, err := snapshot.Create(db, stored, *label)
	if err != nil {
		fatalf("Error creating snapshot: %v\n", err)
	}
	if !created {
		fmt.Printf("No changes since snapshot #%d\n", rev)
		return
	}

	fmt.Printf("Snapshot #%d created: %d tabs (%d pinned)\n", rev, stored.Len(), len(stored.Pinned))
	if diff != nil {
		fmt.Println()
		fmt.Print(snapshot.FormatDiff(diff))
	}
}

func runSnapshotList(args []string) {
	fs := flag.NewFlagSet("snapshot list", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database path")
	fs.Parse(args)

	db, err := openDB(*dbPath)
	if err != nil {
		fatalf("Error opening database: %v\n", err)
	}
	defer db.Close()

	snaps, err := storage.ListSnapshots(db)
	if err != nil {
		fatalf("Error listing snapshots: %v\n", err)
	}
	if len(snaps) == 0 {
		fmt.Println("No snapshots found.")
		return
	}

	fmt.Printf("%-5s %5s  %-20s  %s\n", "REV", "TABS", "LABEL", "CREATED")
	for _, s := range snaps {
		fmt.Printf("%5d %5d  %-20s  %s\n",
			s.Rev,
			s.TabCount,
			s.Name,
			s.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
}

func runSnapshotDiff(args []string) {
	fs := flag.NewFlagSet("snapshot diff", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database path")
	fs.Parse(reorderArgs(args))

	rev := 0
	if fs.NArg() > 0 {
		var err error
		rev, err = strconv.Atoi(fs.Arg(0))
		if err != nil {
			fatalf("Invalid revision number: %s\n", fs.Arg(0))
		}
	}

	db, err := openDB(*dbPath)
	if err != nil {
		fatalf("Error opening database: %v\n", err)
	}
	defer db.Close()

	stored, err := tabstore.ReadStored(context.Background(), storage.NewSQLite(db))
	if err != nil {
		fatalf("Error reading tabs: %v\n", err)
	}
	result, err := snapshot.DiffAgainstCurrent(db, rev, stored)
	if err != nil {
		fatalf("Error: %v\n", err)
	}
	fmt.Print(snapshot.FormatDiff(result))
}

// revArg parses the single <rev> argument of a snapshot subcommand.
func revArg(fs *flag.FlagSet, usage string) int {
	if fs.NArg() < 1 {
		fatalf("Usage: %s\n", usage)
	}
	rev, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		fatalf("Invalid revision number: %s\n", fs.Arg(0))
	}
	return rev
}

func confirm(prompt string) bool {
	fmt.Print(prompt + " [y/N] ")
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func runSnapshotDelete(args []string) {
	fs := flag.NewFlagSet("snapshot delete", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Skip confirmation prompt")
	dbPath := fs.String("db", "", "Database path")
	fs.Parse(reorderArgs(args))

	rev := revArg(fs, "vibetabber snapshot delete <rev> [--yes]")
	if !*yes && !confirm(fmt.Sprintf("Delete snapshot #%d?", rev)) {
		fmt.Println("Aborted.")
		return
	}

	db, err := openDB(*dbPath)
	if err != nil {
		fatalf("Error opening database: %v\n", err)
	}
	defer db.Close()

	if err := storage.DeleteSnapshot(db, rev); err != nil {
		fatalf("Error deleting snapshot: %v\n", err)
	}
	fmt.Printf("Snapshot #%d deleted.\n", rev)
}

func runSnapshotRestore(args []string) {
	fs := flag.NewFlagSet("snapshot restore", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Skip confirmation prompt")
	dbPath := fs.String("db", "", "Database path")
	fs.Parse(reorderArgs(args))

	rev := revArg(fs, "vibetabber snapshot restore <rev> [--yes]")
	if !*yes && !confirm(fmt.Sprintf("Replace the saved sidebar with snapshot #%d? Stop `vibetabber serve` first.", rev)) {
		fmt.Println("Aborted.")
		return
	}

	db, err := openDB(*dbPath)
	if err != nil {
		fatalf("Error opening database: %v\n", err)
	}
	defer db.Close()

	n, err := snapshot.Restore(context.Background(), db, storage.NewSQLite(db), rev)
	if err != nil {
		fatalf("Error restoring snapshot: %v\n", err)
	}
	fmt.Printf("Restored %d tabs from snapshot #%d. They reopen when activated.\n", n, rev)
}
