package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"

	"github.com/skillforge/joblens/internal/app"
	"github.com/skillforge/joblens/internal/common"
	"github.com/skillforge/joblens/internal/controller"
	"github.com/skillforge/joblens/internal/livefeed"
	"github.com/skillforge/joblens/internal/models"
	badgerstorage "github.com/skillforge/joblens/internal/storage/badger"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	filterTitle  = flag.String("title", "", "Filter by job title keyword")
	filterCo     = flag.String("company", "", "Filter by company name")
	filterLoc    = flag.String("location", "", "Filter by location")
	filterSkills = flag.String("skills", "", "Filter by skills (comma-separated)")
	filterSource = flag.String("source", "", "Filter by source id")
	pageLimit    = flag.Int("limit", 0, "Page size (overrides config)")
	pageOffset   = flag.Int("offset", 0, "Page offset")
	listSources  = flag.Bool("sources", false, "List available job sources and exit")
	showHistory  = flag.Bool("history", false, "Query locally stored job history and exit")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Joblens version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	var err error

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("joblens.toml"); err == nil {
			configFiles = append(configFiles, "joblens.toml")
		}
	}

	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	if *pageLimit > 0 {
		config.View.PageSize = *pageLimit
	}
	if config.View.PageSize <= 0 {
		config.View.PageSize = 20
	}

	logger = common.InitLogger(config)
	common.PrintBanner(common.LoadVersionFromFile())

	logger.Info().
		Strs("config_files", configFiles).
		Str("api_url", config.API.BaseURL).
		Str("ws_url", config.Push.URL).
		Str("log_level", config.Logging.Level).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *showHistory {
		runHistory(ctx, application)
		return
	}
	if *listSources {
		runSources(ctx, application)
		return
	}

	application.Controller.Start(ctx)
	application.Controller.EditDraft(func(f *models.FilterSet) {
		f.Title = *filterTitle
		f.CompanyName = *filterCo
		f.Location = *filterLoc
		f.SourceID = *filterSource
		f.Skills = *filterSkills
	})

	if err := application.Controller.Apply(ctx); err != nil {
		logger.Error().Err(err).Msg("Initial fetch failed")
	}
	for i := 0; i < *pageOffset/config.View.PageSize; i++ {
		if err := application.Controller.NextPage(ctx); err != nil {
			logger.Error().Err(err).Msg("Page fetch failed")
			break
		}
	}

	printView(application.Controller.View(), application.Controller.IsRecent)

	keyword := strings.TrimSpace(*filterTitle)
	watching := utf8.RuneCountInString(keyword) >= livefeed.MinKeywordLen || config.Refresh.Enabled
	if !watching {
		return
	}

	logger.Info().
		Str("keyword", keyword).
		Msg("Watching for updates - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	lastBanner := 0
	for {
		select {
		case <-sigChan:
			logger.Info().Msg("Interrupt signal received")
			return
		case <-ticker.C:
			view := application.Controller.View()
			if view.Banner > 0 && view.Banner != lastBanner {
				fmt.Printf("\n%d new job(s) for %q\n", view.Banner, keyword)
				printView(view, application.Controller.IsRecent)
			}
			lastBanner = view.Banner
		}
	}
}

func runHistory(ctx context.Context, application *app.App) {
	jobs, err := application.History.ListJobs(ctx, &badgerstorage.HistoryListOptions{
		Title:       *filterTitle,
		CompanyName: *filterCo,
		Limit:       config.View.PageSize,
		Offset:      *pageOffset,
	})
	if err != nil {
		logger.Error().Err(err).Msg("History query failed")
		return
	}

	total, err := application.History.Count(ctx)
	if err != nil {
		total = len(jobs)
	}

	fmt.Printf("%d of %d stored job(s):\n", len(jobs), total)
	for _, job := range jobs {
		printJob(*job, false)
	}
}

func runSources(ctx context.Context, application *app.App) {
	options, err := application.Client.ListSources(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Source fetch failed")
		return
	}
	fmt.Printf("%d source(s):\n", len(options))
	for _, opt := range options {
		fmt.Printf("  %-30s %d feed(s)\n", opt.Name, len(opt.IDs))
	}
}

func printView(view controller.View, isRecent func(string) bool) {
	if view.Err != nil {
		fmt.Printf("fetch failed: %v\n", view.Err)
		return
	}

	total := "?"
	if view.Page.Total != nil {
		total = fmt.Sprintf("%d", *view.Page.Total)
	}
	fmt.Printf("\nPage %d (%d of %s job(s), status: %s)\n",
		view.CurrentPage, len(view.Page.Items), total, view.Search)

	for _, job := range view.Page.Items {
		printJob(job, isRecent(job.ID))
	}
}

func printJob(job models.JobRecord, recent bool) {
	marker := " "
	if recent {
		marker = "*"
	}
	line := fmt.Sprintf("%s %-40s %-24s %s", marker, job.Title, job.CompanyName, job.Location)
	if job.MatchingScore != nil {
		line = fmt.Sprintf("%s  (%.0f%%)", line, *job.MatchingScore)
	}
	fmt.Println(strings.TrimRight(line, " "))
}
