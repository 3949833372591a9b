package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mmcdole/tagline/internal/config"
	"github.com/mmcdole/tagline/internal/details"
	"github.com/mmcdole/tagline/internal/dispatch"
	"github.com/mmcdole/tagline/internal/domain"
	"github.com/mmcdole/tagline/internal/genres"
	"github.com/mmcdole/tagline/internal/history"
	"github.com/mmcdole/tagline/internal/liststore"
	"github.com/mmcdole/tagline/internal/log"
	"github.com/mmcdole/tagline/internal/savedlist"
	"github.com/mmcdole/tagline/internal/scheduler"
	"github.com/mmcdole/tagline/internal/session"
	"github.com/mmcdole/tagline/internal/store"
	"github.com/mmcdole/tagline/internal/tmdb"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.Parse()

	if showVersion {
		fmt.Printf("tagline %s\n", Version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, logFile, err := log.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = log.NullLogger()
	} else {
		defer logFile.Close()
	}
	slog.SetDefault(logger)

	logger.Info("starting tagline", "version", Version)

	if !cfg.IsConfigured() {
		return runSetupFlow(cfg)
	}

	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	app.scheduler.Start()
	app.Run(os.Stdin, os.Stdout)

	logger.Info("shutting down")
	return nil
}

// app holds the wired services for one process
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	client     *tmdb.Client
	lists      domain.ListStore
	session    *session.Static
	details    *details.Service
	genres     *genres.Service
	history    *history.Service
	saved      *savedlist.Service
	dispatch   *dispatch.Controller
	results    chan dispatch.Result
	scheduler  *scheduler.Scheduler
	closeLists func() error
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.NewStore(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	client := tmdb.NewClient(tmdb.Options{
		APIKey:            cfg.TMDB.APIKey,
		BaseURL:           cfg.TMDB.BaseURL,
		Language:          cfg.TMDB.Language,
		Timeout:           cfg.TMDB.Timeout,
		RequestsPerSecond: cfg.TMDB.RequestsPerSecond,
	}, logger)

	a := &app{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		client:     client,
		session:    session.NewStatic(cfg.Session.UserID),
		closeLists: func() error { return nil },
	}

	switch strings.ToLower(cfg.List.Backend) {
	case config.BackendRedis:
		r, err := liststore.DialRedis(cfg.List.RedisAddr, cfg.List.RedisPassword, cfg.List.KeyPrefix, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to connect to list store: %w", err)
		}
		a.lists = r
		a.closeLists = r.Close
	default:
		a.lists = liststore.NewMemory()
	}

	a.details = details.NewService(st, client, cfg.Cache.DetailTTL, logger)
	a.genres = genres.NewService(st, client, logger)
	a.history = history.NewService(st, cfg.Search.HistoryLimit, logger)
	a.saved = savedlist.NewService(a.lists, a.session, logger)

	a.results = make(chan dispatch.Result, 4)
	a.dispatch = dispatch.NewController(client, a.history, dispatch.NewChannelObserver(a.results), dispatch.Options{
		Debounce:  cfg.Search.Debounce,
		MinLength: cfg.Search.MinLength,
	}, logger)

	a.scheduler, err = scheduler.New(a.details, a.saved, a.session, scheduler.Options{
		SweepInterval:     cfg.Cache.SweepInterval,
		ReconcileInterval: cfg.List.ReconcileInterval,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// Close stops background work and releases every connection
func (a *app) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.dispatch != nil {
		a.dispatch.Close()
	}
	if err := a.closeLists(); err != nil {
		a.logger.Warn("failed to close list store", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close cache", "error", err)
	}
}

// savedItem builds the list entry for a search hit. The full record is
// preferred; without it, genre names are resolved from the genre table.
func (a *app) savedItem(ctx context.Context, res domain.SearchResult) domain.SavedItem {
	if d, err := a.details.GetDetails(ctx, res.SourceID, res.Kind); err == nil {
		return domain.SavedItemFromDetail(d)
	}

	item := domain.SavedItemFromResult(res)
	if len(res.GenreIDs) == 0 {
		return item
	}
	// Fills the table on first use; a later lookup still works from whatever is cached
	if _, err := a.genres.All(ctx); err != nil {
		a.logger.Warn("genre table unavailable", "error", err)
	}
	names, err := a.genres.NamesForIDs(res.GenreIDs)
	if err != nil {
		a.logger.Warn("failed to resolve genre names", "sourceID", res.SourceID, "error", err)
		return item
	}
	item.Genres = names
	return item
}

// runSetupFlow asks for the API key when none is configured
func runSetupFlow(cfg *config.Config) error {
	return setup(cfg, os.Stdin, os.Stdout, config.SaveConfig)
}

func setup(cfg *config.Config, in io.Reader, out io.Writer, save func(*config.Config) error) error {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Welcome to Tagline!")
	fmt.Fprintln(out)

	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "Enter your TMDB API key: ")
		input, err := reader.ReadString('\n')
		key := strings.TrimSpace(input)
		if key != "" {
			cfg.TMDB.APIKey = key
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		fmt.Fprintln(out, "API key cannot be empty. Please try again.")
	}

	fmt.Fprint(out, "User id for your saved list (blank to skip): ")
	if input, err := reader.ReadString('\n'); err == nil || input != "" {
		cfg.Session.UserID = strings.TrimSpace(input)
	}

	if err := save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved!")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Run tagline again to start the application.")
	return nil
}
