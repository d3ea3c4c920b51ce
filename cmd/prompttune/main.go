package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pbaille/prompttune/internal/api"
	"github.com/pbaille/prompttune/internal/app"
	"github.com/pbaille/prompttune/internal/config"
	"github.com/pbaille/prompttune/internal/domain"
	"github.com/pbaille/prompttune/internal/fetcher"
	"github.com/pbaille/prompttune/internal/kv"
	"github.com/pbaille/prompttune/internal/optimizer"
	"github.com/pbaille/prompttune/internal/store"
)

var (
	cfgPath string
	dbPath  string
	debug   bool

	cfg    *config.Config
	logger zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "prompttune",
		Short:         "Prompt library and optimizer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			logger = newLogger(cfg.LogLevel, debug)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(useCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(categoriesCmd())
	rootCmd.AddCommand(optimizeCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string, debug bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// openSession opens the library and wires the optimizer when an endpoint
// is configured. The returned close func releases the database.
func openSession() (*app.Session, func(), error) {
	backend, err := kv.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(backend, store.WithLogger(logger))
	if err != nil {
		if !domain.IsWarning(err) {
			backend.Close()
			return nil, nil, err
		}
		warn(err)
	}

	var opt app.Optimizer
	if cfg.Optimizer.Endpoint != "" {
		client, err := optimizer.New(optimizer.Config{
			Endpoint:  cfg.Optimizer.Endpoint,
			APIKey:    cfg.Optimizer.APIKey,
			Timeout:   cfg.Optimizer.Timeout,
			CacheTTL:  cfg.Optimizer.CacheTTL,
			CacheSize: cfg.Optimizer.CacheSize,
		}, logger)
		if err != nil {
			backend.Close()
			return nil, nil, err
		}
		opt = client
	}

	closeFn := func() {
		if err := backend.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close database")
		}
	}
	return app.New(st, opt, logger), closeFn, nil
}

// warn prints a persistence notice without failing the command
func warn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v (changes kept for this session only)\n", err)
	}
}

// finish turns a persistence warning into a printed notice
func finish(err error) error {
	if domain.IsWarning(err) {
		warn(err)
		return nil
	}
	return err
}

func readText(ctx context.Context, args []string, fromURL string) (string, error) {
	if fromURL != "" {
		if !fetcher.IsURL(fromURL) {
			return "", fmt.Errorf("not a URL: %s", fromURL)
		}
		fmt.Fprintf(os.Stderr, "Fetching %s...\n", fromURL)
		return fetcher.Fetch(ctx, fromURL)
	}
	return strings.Join(args, " "), nil
}

func addCmd() *cobra.Command {
	var (
		title    string
		category string
		tags     string
		fromURL  string
	)

	cmd := &cobra.Command{
		Use:   "add [text]",
		Short: "Add a prompt to the library",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd.Context(), args, fromURL)
			if err != nil {
				return err
			}

			sess, closeFn, err := openSession()
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := sess.Store().Create(domain.PromptInput{
				Title:    title,
				Category: domain.Category(category),
				Tags:     domain.ParseTags(tags),
				Text:     text,
			})
			if err != nil && !domain.IsWarning(err) {
				return err
			}
			warn(err)

			fmt.Printf("Added prompt: %s\n", shortID(rec.ID))
			fmt.Printf("Title: %s\n", rec.Title)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "prompt title")
	cmd.Flags().StringVarP(&category, "category", "c", "", "category ("+domain.CategoryList()+")")
	cmd.Flags().StringVar(&tags, "tags", "", "comma separated tags")
	cmd.Flags().StringVar(&fromURL, "from-url", "", "import the prompt text from a web page")
	return cmd
}

func listCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prompts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, closeFn, err := openSession()
			if err != nil {
				return err
			}
			defer closeFn()

			prompts := sess.Store().List()
			if len(prompts) == 0 {
				fmt.Println("No prompts yet. Use 'prompttune add' to create one.")
				return nil
			}
			if limit > 0 && len(prompts) > limit {
				prompts = prompts[:limit]
			}
			printRecords(prompts)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of prompts to show")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show prompt details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, closeFn, err := openSession()
			if err != nil {
				return err
			}
			defer closeFn()

			id, err := sess.Store().Resolve(args[0])
			if err != nil {
				return err
			}
			rec, err := sess.Store().Get(id)
			if err != nil {
				return err
			}

			fmt.Printf("ID:       %s\n", rec.ID)
			fmt.Printf("Title:    %s\n", rec.Title)
			fmt.Printf("Category: %s\n", rec.Category)
			if len(rec.Tags) > 0 {
				fmt.Printf("Tags:     %s\n", strings.Join(rec.Tags, ", "))
			}
			fmt.Printf("Created:  %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("Used:     %d\n", rec.UsageCount)
			fmt.Printf("Text:\n%s\n", rec.Text)
			return nil
		},
	}
}

func editCmd() *cobra.Command {
	var (
		title    string
		category string
		tags     string
		text     string
	)

	cmd := &cobra.Command{
		Use:   "edit [id]",
		Short: "Edit a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, closeFn, err := openSession()
			if err != nil {
				return err
			}
			defer closeFn()

			id, err := sess.Store().Resolve(args[0])
			if err != nil {
				return err
			}
			rec, err := sess.Store().Get(id)
			if err != nil {
				return err
			}

			// Unset flags keep the current value
			in := domain.PromptInput{
				Title:    rec.Title,
				Category: rec.Category,
				Tags:     rec.Tags,
				Text:     rec.Text,
			}
			if cmd.Flags().Changed("title") {
				in.Title = title
			}
			if cmd.Flags().Changed("category") {
				in.Category = domain.Category(category)
			}
			if cmd.Flags().Changed("tags") {
				in.Tags = domain.ParseTags(tags)
			}
			if cmd.Flags().Changed("text") {
				in.Text = text
			}

			updated, err := sess.Store().Update(id, in)
			if err != nil && !domain.IsWarning(err) {
				return err
			}
			warn(err)

			fmt.Printf("Updated prompt: %s\n", shortID(updated.ID))
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&category, "category", "c", "", "new category")
	cmd.Flags().StringVar(&tags, "tags", "", "new comma separated tags")
	cmd.Flags().StringVar(&text, "text", "", "new prompt text")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, closeFn, err := openSession()
			if err != nil {
				return err
			}
			defer closeFn()

			id, err := sess.Store().Resolve(args[0])
			if err != nil {
				return err
			}
			if err := finish(sess.Store().Delete(id)); err != nil {
				return err
			}
			fmt.Printf("Deleted prompt: %s\n", shortID(id))
			return nil
		},
	}
}

func useCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use [id]",
		Short: "Print a prompt's text and count the use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, closeFn, err := openSession()
			if err != nil {
				return err
			}
			defer closeFn()

			id, err := sess.Store().Resolve(args[0])
			if err != nil {
				return err
			}
			text, err := sess.UsePrompt(id)
			if err != nil && !domain.IsWarning(err) {
				return err
			}
			warn(err)

			fmt.Println(text)
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search prompts by title, text or tag",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, closeFn, err := openSession()
			if err != nil {
				return err
			}
			defer closeFn()

			var term string
			if len(args) == 1 {
				term = args[0]
			}

			prompts := sess.Store().Search(term, category)
			if len(prompts) == 0 {
				fmt.Println("No matching prompts found.")
				return nil
			}
			printRecords(prompts)
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", store.AllCategories, "restrict to a category")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show library analytics",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, closeFn, err := openSession()
			if err != nil {
				return err
			}
			defer closeFn()

			a := sess.Store().Analytics()
			fmt.Printf("Optimizations: %d\n", a.TotalOptimizations)
			fmt.Printf("Saved prompts: %d\n", a.SavedPrompts)
			fmt.Printf("Avg length:    %d chars\n", a.AvgLength)

			top := sess.Store().TopUsed(5)
			if len(top) > 0 {
				fmt.Printf("\nMost used:\n")
				for _, r := range top {
					fmt.Printf("  %4d  %s  %s\n", r.UsageCount, shortID(r.ID), truncate(r.Title, 50))
				}
			}
			return nil
		},
	}
}

func categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List categories with prompt counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, closeFn, err := openSession()
			if err != nil {
				return err
			}
			defer closeFn()

			for _, c := range domain.Categories {
				n := len(sess.Store().Search("", string(c)))
				fmt.Printf("%-12s %d\n", c, n)
			}
			return nil
		},
	}
}

func optimizeCmd() *cobra.Command {
	var (
		fromURL  string
		save     bool
		title    string
		category string
		tags     string
	)

	cmd := &cobra.Command{
		Use:   "optimize [prompt]",
		Short: "Optimize a prompt with the remote endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd.Context(), args, fromURL)
			if err != nil {
				return err
			}

			sess, closeFn, err := openSession()
			if err != nil {
				return err
			}
			defer closeFn()

			fmt.Fprint(os.Stderr, "Optimizing... ")
			out, err := sess.Optimize(cmd.Context(), text)
			if err != nil && !domain.IsWarning(err) {
				fmt.Fprintln(os.Stderr, "failed")
				return err
			}
			fmt.Fprintln(os.Stderr, "done")
			warn(err)

			fmt.Println(out)

			if !save {
				return nil
			}
			rec, err := sess.SaveResult(title, domain.Category(category), domain.ParseTags(tags))
			if err != nil && !domain.IsWarning(err) {
				return err
			}
			warn(err)
			fmt.Fprintf(os.Stderr, "Saved as %s\n", shortID(rec.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&fromURL, "from-url", "", "optimize the text of a web page")
	cmd.Flags().BoolVar(&save, "save", false, "save the optimized prompt to the library")
	cmd.Flags().StringVarP(&title, "title", "t", "", "title for the saved prompt")
	cmd.Flags().StringVarP(&category, "category", "c", string(domain.CategoryContent), "category for the saved prompt")
	cmd.Flags().StringVar(&tags, "tags", "", "comma separated tags for the saved prompt")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}

			sess, closeFn, err := openSession()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := api.New(sess, cfg.Server.Addr, logger)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.Run(ctx)
			})
			g.Go(func() error {
				<-ctx.Done()
				logger.Info().Msg("Received shutdown signal")
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", config.DefaultAddr, "server address")
	return cmd
}

func printRecords(records []domain.PromptRecord) {
	for _, r := range records {
		fmt.Printf("%s  %-11s  %s\n", shortID(r.ID), r.Category, truncate(r.Title, 50))
	}
}

// shortID abbreviates an id for display. Stored ids may be shorter than
// the abbreviation.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
