package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zmcp/tap-aptem/internal/config"
	"github.com/zmcp/tap-aptem/internal/debug"
	"github.com/zmcp/tap-aptem/internal/tap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

type flags struct {
	configPath  string
	catalogPath string
	statePath   string
	discover    bool
	verbose     bool
	trace       bool
	about       bool
}

var (
	opts flags
	v    *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "tap-aptem",
	Short: "Singer tap for the Aptem OData API",
	Long: `Singer tap for the Aptem OData API.

Discovers every entity set of the tenant's OData service and extracts its
records as Singer SCHEMA, RECORD and STATE messages on stdout.

Examples:
  tap-aptem --config config.json --discover > catalog.json
  tap-aptem --config config.json --catalog catalog.json --state state.json
  TAP_APTEM_API_TOKEN=... TAP_APTEM_TENANT_NAME=acme tap-aptem`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	// Load .env file if it exists
	godotenv.Load()

	v = config.New()

	rootCmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to the JSON config file")
	rootCmd.Flags().BoolVarP(&opts.discover, "discover", "d", false, "Write the catalog of all streams to stdout and exit")
	rootCmd.Flags().StringVar(&opts.catalogPath, "catalog", "", "Path to a catalog selecting the streams to sync")
	rootCmd.Flags().StringVar(&opts.catalogPath, "properties", "", "Alias for --catalog")
	rootCmd.Flags().StringVarP(&opts.statePath, "state", "s", "", "Path to a state file; overrides the configured state backend")
	rootCmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging on stderr")
	rootCmd.Flags().BoolVar(&opts.trace, "trace", false, "Record every HTTP exchange in a trace file")
	rootCmd.Flags().BoolVar(&opts.about, "about", false, "Print tap information and supported settings, then exit")

	rootCmd.Flags().String("start-date", "", "Override start_date")
	rootCmd.Flags().Bool("validate-records", false, "Override validate_records")
	v.BindPFlag("start_date", rootCmd.Flags().Lookup("start-date"))
	v.BindPFlag("validate_records", rootCmd.Flags().Lookup("validate-records"))
}

func newLogger(verbose bool) *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&log.JSONFormatter{})
	logger.SetLevel(log.InfoLevel)
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

func run(cmd *cobra.Command, args []string) error {
	if opts.about {
		return tap.WriteAbout(os.Stdout, version)
	}

	logger := newLogger(opts.verbose)

	cfg, err := config.Load(v, opts.configPath)
	if err != nil {
		return err
	}

	tracer, err := debug.NewTraceLogger(opts.trace, "")
	if err != nil {
		return err
	}
	defer tracer.Close()
	if tracer.Enabled() {
		logger.WithField("file", tracer.GetFilename()).Info("Trace logging enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	t, err := tap.New(cfg, tap.Options{
		CatalogPath: opts.catalogPath,
		StatePath:   opts.statePath,
		Output:      os.Stdout,
		Logger:      logger,
		Tracer:      tracer,
	})
	if err != nil {
		return err
	}

	if opts.discover {
		return t.Discover(ctx, os.Stdout)
	}
	return t.Sync(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tap-aptem: %v\n", err)
		os.Exit(1)
	}
}
