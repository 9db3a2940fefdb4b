package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/objectfs/gvfs/internal/circuit"
	"github.com/objectfs/gvfs/internal/clientcache"
	"github.com/objectfs/gvfs/internal/config"
	"github.com/objectfs/gvfs/internal/gvfs"
	"github.com/objectfs/gvfs/internal/metadata"
	"github.com/objectfs/gvfs/internal/metrics"
	"github.com/objectfs/gvfs/internal/registry"
	"github.com/objectfs/gvfs/internal/storage/builtin"
	vfserrors "github.com/objectfs/gvfs/pkg/errors"
	"github.com/objectfs/gvfs/pkg/retry"
	"github.com/objectfs/gvfs/pkg/types"
	"github.com/objectfs/gvfs/pkg/utils"
)

// Metadata service kinds accepted by --metadata.
const (
	metadataREST   = "rest"
	metadataMemory = "memory"
)

type rootOptions struct {
	configFile  string
	server      string
	metalake    string
	metadata    string
	retries     int
	metricsAddr string
	logLevel    string
	properties  []string
	filesets    []string
}

// env is everything a command needs, built once per invocation.
type env struct {
	cfg      *config.Configuration
	registry *registry.Registry
	resolver *metadata.Resolver
	clients  *clientcache.Cache
	metrics  *metrics.Collector
	vfs      *gvfs.FileSystem
	retryer  *retry.Retryer
	logClose io.Closer
}

func (e *env) close() {
	e.logStats()
	if err := e.vfs.Close(); err != nil {
		log.WithError(err).Warn("closing filesystem")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.metrics.Stop(ctx)
	_ = e.logClose.Close()
}

// logStats logs what the caches did during the invocation.
func (e *env) logStats() {
	st := e.clients.Stats()
	fields := log.Fields{
		"clients":       st.Entries,
		"constructions": st.Constructions,
		"failures":      st.Failures,
		"invalidations": st.Invalidations,
	}
	open := 0
	for _, b := range e.clients.Breakers() {
		if b.State != circuit.StateClosed {
			open++
		}
	}
	fields["open_breakers"] = open
	if loc, ok := e.resolver.CacheStats(); ok {
		fields["location_hits"] = loc.Hits
		fields["location_misses"] = loc.Misses
	}
	log.WithFields(fields).Debug("session summary")
}

// do runs fn with the configured retry policy.
func (e *env) do(ctx context.Context, fn func(context.Context) error) error {
	return e.retryer.DoWithContext(ctx, fn)
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	var e *env

	root := &cobra.Command{
		Use:   "gvfs",
		Short: "Access filesets through the virtual filesystem",
		Long: `gvfs resolves gvfs://fileset/<catalog>/<schema>/<fileset>/<path> through the
metadata service and runs the operation against the fileset's storage backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			e, err = setup(cmd.Context(), opts)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e != nil {
				e.close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "YAML config file")
	flags.StringVar(&opts.server, "server", "", "metadata server URI (overrides config)")
	flags.StringVar(&opts.metalake, "metalake", "", "metalake filesets are resolved in (overrides config)")
	flags.StringVar(&opts.metadata, "metadata", metadataREST, "metadata service: rest or memory")
	flags.IntVar(&opts.retries, "retries", 3, "attempts for operations failing with a retryable error")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (overrides config)")
	flags.StringArrayVarP(&opts.properties, "property", "D", nil, "flat property key=value, repeatable")
	flags.StringArrayVar(&opts.filesets, "fileset", nil,
		"with --metadata=memory, define catalog.schema.fileset=location, repeatable")

	current := func() *env { return e }
	root.AddCommand(
		newLsCmd(current),
		newCatCmd(current),
		newPutCmd(current),
		newAppendCmd(current),
		newStatCmd(current),
		newExistsCmd(current),
		newMkdirCmd(current),
		newRmCmd(current),
		newMvCmd(current),
		newProvidersCmd(current),
	)
	return root
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "gvfs: %s\n", describe(err))
		stop()
		os.Exit(1)
	}
}

// describe renders err with its code and, when known, a hint.
func describe(err error) string {
	e, ok := vfserrors.As(err)
	if !ok {
		return err.Error()
	}
	if hint := e.GetRecommendation(); hint != "" {
		return e.Error() + " (" + hint + ")"
	}
	return e.Error()
}

func loadConfig(opts *rootOptions) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if opts.configFile != "" {
		if err := cfg.LoadFromFile(opts.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	props := make(map[string]string, len(opts.properties))
	for _, p := range opts.properties {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid property %q, want key=value", p)
		}
		props[strings.TrimSpace(k)] = v
	}
	if err := cfg.ApplyProperties(props); err != nil {
		return nil, err
	}

	if opts.server != "" {
		cfg.Server.URI = opts.server
	}
	if opts.metalake != "" {
		cfg.Server.Metalake = opts.metalake
	}
	if opts.logLevel != "" {
		cfg.Global.LogLevel = opts.logLevel
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = opts.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, vfserrors.NewError(vfserrors.ErrCodeInvalidConfig, err.Error()).WithComponent("cli")
	}
	return cfg, nil
}

func setup(ctx context.Context, opts *rootOptions) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	blockSize, err := cfg.BlockSize()
	if err != nil {
		return nil, vfserrors.NewError(vfserrors.ErrCodeInvalidConfig, err.Error()).WithComponent("cli")
	}
	rotation, err := cfg.LogRotation()
	if err != nil {
		return nil, vfserrors.NewError(vfserrors.ErrCodeInvalidConfig, err.Error()).WithComponent("cli")
	}
	logClose, err := utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFormat, cfg.Global.LogFile, rotation)
	if err != nil {
		return nil, err
	}
	logger := log.Log

	reg := registry.New()
	if err := builtin.Register(reg, logger); err != nil {
		_ = logClose.Close()
		return nil, err
	}

	svc, err := metadataService(opts, cfg)
	if err != nil {
		_ = logClose.Close()
		return nil, err
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Address:   cfg.Metrics.Address,
		Path:      cfg.Metrics.Path,
		Namespace: "gvfs",
	})
	if err != nil {
		_ = logClose.Close()
		return nil, err
	}
	if err := collector.Start(ctx); err != nil {
		_ = logClose.Close()
		return nil, err
	}

	resolver := metadata.NewResolver(svc, reg, metadata.ResolverOptions{
		Timeout:      cfg.Server.Timeout,
		CacheTTL:     cfg.FileSystem.LocationCacheTTL,
		CacheEntries: cfg.FileSystem.LocationCacheEntries,
		Logger:       logger,
	})
	clients := clientcache.New(reg, clientcache.Options{
		Disabled:         cfg.FileSystem.DisableCache,
		FailureThreshold: uint32(cfg.FileSystem.FailureThreshold),
		Logger:           logger,
		Observer:         collector,
	})
	vfs := gvfs.New(resolver, reg, clients, gvfs.Options{
		Metalake:         cfg.Server.Metalake,
		Properties:       cfg.BypassProperties(),
		BypassPrefix:     cfg.FileSystem.BypassPrefix,
		DefaultBlockSize: blockSize,
		BackendTimeout:   cfg.FileSystem.BackendTimeout,
		Logger:           logger,
		Recorder:         collector,
	})

	rc := retry.DefaultConfig()
	rc.MaxAttempts = opts.retries
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).WithError(err).Info("retrying")
	}

	return &env{
		cfg:      cfg,
		registry: reg,
		resolver: resolver,
		clients:  clients,
		metrics:  collector,
		vfs:      vfs,
		retryer:  retry.New(rc),
		logClose: logClose,
	}, nil
}

func metadataService(opts *rootOptions, cfg *config.Configuration) (metadata.Service, error) {
	switch opts.metadata {
	case metadataREST:
		if len(opts.filesets) > 0 {
			return nil, vfserrors.NewError(vfserrors.ErrCodeInvalidConfig, "--fileset requires --metadata=memory")
		}
		return metadata.NewRESTClient(metadata.RESTConfig{
			ServerURI: cfg.Server.URI,
			AuthType:  cfg.Server.AuthType,
			User:      cfg.Server.User,
			Token:     cfg.Server.Token,
			Timeout:   cfg.Server.Timeout,
			Breaker: circuit.New("metadata", circuit.Config{
				IsFailure: vfserrors.IsServiceUnavailable,
			}),
		})
	case metadataMemory:
		svc := metadata.NewMemoryService()
		for _, def := range opts.filesets {
			if err := defineFileset(svc, cfg.Server.Metalake, def); err != nil {
				return nil, err
			}
		}
		return svc, nil
	default:
		return nil, vfserrors.Newf(vfserrors.ErrCodeInvalidConfig, "unknown metadata service %q, want rest or memory", opts.metadata)
	}
}

// defineFileset adds catalog.schema.fileset=location to svc, creating the
// metalake, catalog and schema as needed.
func defineFileset(svc *metadata.MemoryService, metalake, def string) error {
	name, location, ok := strings.Cut(def, "=")
	parts := strings.Split(name, ".")
	if !ok || len(parts) != 3 || location == "" {
		return vfserrors.Newf(vfserrors.ErrCodeInvalidConfig, "invalid fileset %q, want catalog.schema.fileset=location", def)
	}

	ignoreExists := func(err error) error {
		if errors.Is(err, metadata.ErrAlreadyExists) {
			return nil
		}
		return err
	}
	if err := ignoreExists(svc.CreateMetalake(metalake)); err != nil {
		return err
	}
	if err := ignoreExists(svc.CreateCatalog(metalake, parts[0], nil)); err != nil {
		return err
	}
	if err := ignoreExists(svc.CreateSchema(metalake, parts[0], parts[1], nil)); err != nil {
		return err
	}
	ident := types.FilesetIdent{Metalake: metalake, Catalog: parts[0], Schema: parts[1], Fileset: parts[2]}
	_, err := svc.CreateFileset(ident, metadata.FilesetExternal, location, nil)
	return err
}
