// ABOUTME: CLI entrypoint for the storyboard pipeline with run, serve, and TUI modes.
// ABOUTME: Wires the artifact store, resilient client, layout resolver, and story runner together.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/storyboard/config"
	"github.com/2389-research/storyboard/pipeline"
	"github.com/2389-research/storyboard/store"
	"github.com/2389-research/storyboard/tui"
	"github.com/2389-research/storyboard/web"
)

var version = "dev"

// cliConfig holds flag and positional-argument configuration.
type cliConfig struct {
	serveMode    bool
	tuiMode      bool
	validateMode bool
	configPath   string
	dbPath       string
	bind         string
	style        string
	maxScenes    int
	images       bool
	showVersion  bool
	storyFile    string
}

func main() {
	loadDotEnv(".env")

	cfg := parseFlags()

	if cfg.showVersion {
		fmt.Printf("storyboard %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

func parseFlags() cliConfig {
	var cfg cliConfig

	fs := flag.NewFlagSet("storyboard", flag.ContinueOnError)
	fs.BoolVar(&cfg.serveMode, "serve", false, "Start the HTTP API server")
	fs.BoolVar(&cfg.tuiMode, "tui", false, "Run with the interactive terminal UI")
	fs.BoolVar(&cfg.validateMode, "validate", false, "Check config and layout templates, then exit")
	fs.StringVar(&cfg.configPath, "config", "storyboard.yaml", "Path to the YAML config file")
	fs.StringVar(&cfg.dbPath, "db", "", "SQLite database path (overrides config)")
	fs.StringVar(&cfg.bind, "bind", "", "Server listen address (overrides config)")
	fs.StringVar(&cfg.style, "style", "", "Visual style for the story")
	fs.IntVar(&cfg.maxScenes, "max-scenes", 0, "Maximum scenes to split the story into")
	fs.BoolVar(&cfg.images, "images", false, "Render panel images")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(os.Stderr, version)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if fs.NArg() > 0 {
		cfg.storyFile = fs.Arg(0)
	}

	return cfg
}

// run dispatches to the selected mode. Returns the process exit code.
func run(cli cliConfig) int {
	cfg, err := config.Load(cli.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if cli.dbPath != "" {
		cfg.DBPath = cli.dbPath
	}
	if cli.bind != "" {
		cfg.Server.Bind = cli.bind
	}
	if cli.images {
		cfg.Runner.RenderImages = true
	}

	if cli.validateMode {
		return runValidate(os.Stdout, cfg)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer st.Close()

	if cli.serveMode {
		return runServer(cfg, st)
	}
	return runStory(cli, cfg, st)
}

// runServer starts the HTTP API and blocks until interrupted.
func runServer(cfg *config.Config, st *store.Store) int {
	deps, err := buildDeps(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	factory := func(handler func(pipeline.Event)) *pipeline.Runner {
		return deps.newRunner(st, pipeline.WithEventHandler(handler))
	}
	srv := web.NewServer(st, factory, web.ServerConfig{Addr: cfg.Server.Bind})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	case <-sig:
		fmt.Fprintln(os.Stderr, "shutting down")
		return 0
	}
}

// runStory executes one story from a file (or stdin with "-") and prints the
// resulting scene and artifact summary.
func runStory(cli cliConfig, cfg *config.Config, st *store.Store) int {
	text, err := readStory(cli.storyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	deps, err := buildDeps(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	maxScenes := cli.maxScenes
	if maxScenes <= 0 {
		maxScenes = cfg.Runner.MaxScenes
	}
	req := pipeline.StoryRequest{
		Text:         text,
		Style:        cli.style,
		MaxScenes:    maxScenes,
		RenderImages: cfg.Runner.RenderImages,
	}

	if cli.tuiMode {
		bridge := tui.NewEventBridge()
		runner := deps.newRunner(st, pipeline.WithEventHandler(bridge.HandleEvent))
		model := tui.NewModel(runner, bridge, req)
		final, err := tea.NewProgram(model).Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		if m, ok := final.(tui.Model); ok && m.Err() != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", m.Err())
			return 1
		}
		return 0
	}

	progress, err := pipeline.NewProgressLogger(cfg.ProgressDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer progress.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := deps.newRunner(st, pipeline.WithEventHandler(progress.HandleEvent))
	result, err := runner.RunStory(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	printSummary(os.Stdout, st, result)
	return 0
}

// readStory loads the story text from a file path, or stdin when the path is
// "-" or empty.
func readStory(path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read story: %w", err)
	}
	return string(data), nil
}
