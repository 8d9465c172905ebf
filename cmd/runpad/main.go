package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/iammorganparry/runpad/internal/config"
	"github.com/iammorganparry/runpad/internal/document"
	"github.com/iammorganparry/runpad/internal/history"
	"github.com/iammorganparry/runpad/internal/model"
	"github.com/iammorganparry/runpad/internal/process"
	"github.com/iammorganparry/runpad/internal/tui"
	"github.com/iammorganparry/runpad/internal/workbench"
	"golang.org/x/term"
)

// Exit codes for the headless run command besides the script's own
const (
	exitUsage       = 2
	exitSpawnFailed = 2
	exitCancelled   = 130
)

// systemClipboard writes to the OS clipboard
type systemClipboard struct{}

func (systemClipboard) WriteAll(text string) error {
	return clipboard.WriteAll(text)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  runpad [flags] [file]     edit file in the terminal editor\n")
	fmt.Fprintf(os.Stderr, "  runpad [flags] run <file> run file and stream its output\n")
	fmt.Fprintf(os.Stderr, "  runpad [flags] history [file]\n")
	fmt.Fprintf(os.Stderr, "                            list recent runs\n\n")
	fmt.Fprintf(os.Stderr, "To edit a file named run or history, give its path, e.g. ./run\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "path to a config file")
	debug := flag.Bool("debug", false, "show the runner debug panel")
	flag.Usage = usage
	flag.Parse()

	// Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Debug = true
	}

	// Logger
	logger, closer, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	codec, err := document.NewCodec(cfg.Encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Run history
	runs, db := openHistory(cfg.HistoryPath, logger)
	if db != nil {
		defer db.Close()
	}

	sub, args := parseCommand(flag.Args())
	switch sub {
	case cmdRun:
		if len(args) != 1 {
			usage()
			os.Exit(exitUsage)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		code := runHeadless(ctx, cfg, codec, logger, runs, args[0])
		stop()
		if db != nil {
			db.Close()
		}
		closer.Close()
		os.Exit(code)
	case cmdHistory:
		if len(args) > 1 {
			usage()
			os.Exit(exitUsage)
		}
		if err := printHistory(runs, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			closer.Close()
			os.Exit(1)
		}
		return
	}

	if len(args) > 1 {
		usage()
		os.Exit(exitUsage)
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "runpad needs a terminal; use 'runpad run <file>' to run a script without the editor")
		os.Exit(1)
	}

	if err := runEditor(cfg, codec, logger, runs, args); err != nil {
		logger.Error("editor exited with error", "error", err)
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		closer.Close()
		os.Exit(1)
	}
}

type command int

const (
	cmdEdit command = iota
	cmdRun
	cmdHistory
)

// parseCommand splits the positional arguments into a subcommand and its
// operands. Anything that is not a subcommand name is a file to edit.
func parseCommand(args []string) (command, []string) {
	if len(args) == 0 {
		return cmdEdit, nil
	}
	switch args[0] {
	case "run":
		return cmdRun, args[1:]
	case "history":
		return cmdHistory, args[1:]
	}
	return cmdEdit, args
}

// openHistory opens the run history database. History is optional: an
// empty path or a database that cannot be opened yields a nil store.
func openHistory(path string, logger *slog.Logger) (*history.RunStore, *history.DB) {
	if path == "" {
		return nil, nil
	}
	db, err := history.Open(path)
	if err != nil {
		logger.Warn("failed to open run history", "path", path, "error", err)
		return nil, nil
	}
	return history.NewRunStore(db), db
}

// exitCode maps a run result to the exit code of runpad itself
func exitCode(res process.Result) int {
	switch res.Status {
	case model.RunStatusCompleted:
		if res.ExitCode < 0 {
			// Killed by a signal
			return 1
		}
		return res.ExitCode
	case model.RunStatusSpawnFailed:
		return exitSpawnFailed
	case model.RunStatusCancelled:
		return exitCancelled
	default:
		return 1
	}
}

// runHeadless runs one file with output on the terminal and returns the
// process exit code to use
func runHeadless(ctx context.Context, cfg *config.Config, codec *document.Codec, logger *slog.Logger, runs *history.RunStore, path string) int {
	docs := document.NewController(document.ControllerOptions{Codec: codec, Logger: logger})
	if _, err := docs.Open(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	runner := process.NewRunner(process.OptionsFromConfig(cfg, logger))
	wb := workbench.New(docs, runner, logger)
	if runs != nil {
		wb.History = runs
	}
	res := wb.RunSaved(ctx, docs.Current().Path, process.NewWriterSink(os.Stdout, os.Stderr))
	return exitCode(res)
}

// loadInitialFile opens the file named on the command line. A missing file
// is created empty so the buffer has a path.
func loadInitialFile(docs *document.Controller, path string) error {
	if _, err := docs.Open(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if !docs.SaveTo(path) {
			return fmt.Errorf("could not create %s", path)
		}
	}
	return nil
}

// runEditor starts the terminal editor, optionally on a file given on the
// command line
func runEditor(cfg *config.Config, codec *document.Codec, logger *slog.Logger, runs *history.RunStore, args []string) error {
	sink := process.NewChannelSink(1024)
	defer sink.Close()

	alerts := tui.NewAlerts()
	docs := document.NewController(document.ControllerOptions{
		Codec:    codec,
		Notifier: alerts,
		Logger:   logger,
	})
	if len(args) == 1 {
		if err := loadInitialFile(docs, args[0]); err != nil {
			return err
		}
	}

	opts := process.OptionsFromConfig(cfg, logger)
	if cfg.Debug {
		opts.OnTransition = func(s model.RunSession) {
			sink.Debug(fmt.Sprintf("%s %s", s.ID[:8], s.State))
		}
	}
	wb := workbench.New(docs, process.NewRunner(opts), logger)
	if runs != nil {
		wb.History = runs
	}

	m := tui.NewRootModel(tui.Options{
		Workbench: wb,
		Sink:      sink,
		Alerts:    alerts,
		Clipboard: systemClipboard{},
		Logger:    logger,
		Debug:     cfg.Debug,
	})

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// printHistory lists recent runs, optionally only those of one file
func printHistory(runs *history.RunStore, args []string) error {
	if runs == nil {
		return errors.New("run history is disabled")
	}
	var path string
	if len(args) == 1 {
		path = args[0]
	}

	recent, err := runs.Recent(context.Background(), path, 20)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}
	for _, r := range recent {
		line := fmt.Sprintf("%s %s %-12s exit %-4d %8s  %s",
			r.Status.StatusIcon(),
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Status,
			r.ExitCode,
			r.Duration.Round(time.Millisecond),
			r.Path)
		if r.Error != "" {
			line += "  (" + r.Error + ")"
		}
		fmt.Println(line)
	}
	return nil
}
