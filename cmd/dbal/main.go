// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

// dbal is the database abstraction layer daemon.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	yaml "gopkg.in/yaml.v2"

	"github.com/dbal-labs/dbal/schemas"
	"github.com/dbal-labs/dbal/server"
	"github.com/dbal-labs/dbal/storage"
	"github.com/dbal-labs/dbal/storage/filestore"
	"github.com/dbal-labs/dbal/storage/memblob"
	"github.com/dbal-labs/dbal/storage/registry"
	"github.com/dbal-labs/dbal/storage/s3blob"
	"github.com/dbal-labs/dbal/storage/teststore"
)

// runConfig is the resolved daemon configuration. Precedence per field:
// CLI flag, then environment variable, then config file, then default.
type runConfig struct {
	Bind   string `yaml:"bind"`
	Port   string `yaml:"port"`
	Mode   string `yaml:"mode"`
	Daemon bool   `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	Adapter     string `yaml:"adapter"`
	DatabaseURL string `yaml:"database_url"`
	Endpoint    string `yaml:"endpoint"`
	Sandbox     bool   `yaml:"sandbox"`

	AdminToken string `yaml:"admin_token"`
	CORSOrigin string `yaml:"cors_origin"`

	PackagesPath string `yaml:"packages_path"`
	RegistryPath string `yaml:"schema_registry_path"`
	OutputPath   string `yaml:"prisma_output_path"`
	SeedDir      string `yaml:"seed_dir"`

	BlobBackend   string `yaml:"blob_backend"`
	BlobRoot      string `yaml:"blob_root"`
	BlobURL       string `yaml:"blob_url"`
	BlobBucket    string `yaml:"blob_bucket"`
	BlobRegion    string `yaml:"blob_region"`
	BlobAccessKey string `yaml:"blob_access_key"`
	BlobSecretKey string `yaml:"blob_secret_key"`
	BlobPathStyle bool   `yaml:"blob_path_style"`
}

func main() {
	var configPath string
	config := runConfig{}

	root := &cobra.Command{
		Use:   "dbal",
		Short: "Multi-tenant database abstraction layer service",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveConfig(cmd, config, configPath)
			if err != nil {
				return err
			}
			return run(resolved)
		},
		SilenceUsage: true,
	}

	flags := root.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&config.Bind, "bind", "", "bind address (default 127.0.0.1)")
	flags.StringVar(&config.Port, "port", "", "listen port (default 8080)")
	flags.StringVar(&config.Mode, "mode", "", "run mode: dev, prod or test")
	flags.BoolVarP(&config.Daemon, "daemon", "d", false, "detach and run in the background")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfig merges file, environment and flag values. Flags win over
// environment, environment wins over the file.
func resolveConfig(cmd *cobra.Command, flagConfig runConfig, configPath string) (runConfig, error) {
	if configPath == "" {
		configPath = os.Getenv("DBAL_CONFIG")
	}

	config := runConfig{
		Bind:        "127.0.0.1",
		Port:        "8080",
		Mode:        "dev",
		BlobBackend: "memory",
	}
	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return config, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &config); err != nil {
			return config, fmt.Errorf("parsing config file: %w", err)
		}
	}

	env := func(target *string, names ...string) {
		for _, name := range names {
			if value := os.Getenv(name); value != "" {
				*target = value
				return
			}
		}
	}
	env(&config.Bind, "DBAL_BIND_ADDRESS")
	env(&config.Port, "DBAL_PORT")
	env(&config.Mode, "DBAL_MODE")
	env(&config.LogLevel, "DBAL_LOG_LEVEL")
	env(&config.Adapter, "DBAL_ADAPTER")
	env(&config.DatabaseURL, "DBAL_DATABASE_URL", "DATABASE_URL")
	env(&config.Endpoint, "DBAL_ENDPOINT")
	env(&config.AdminToken, "DBAL_ADMIN_TOKEN")
	env(&config.CORSOrigin, "DBAL_CORS_ORIGIN")
	env(&config.PackagesPath, "DBAL_PACKAGES_PATH")
	env(&config.RegistryPath, "DBAL_SCHEMA_REGISTRY_PATH")
	env(&config.OutputPath, "DBAL_PRISMA_OUTPUT_PATH")
	env(&config.SeedDir, "DBAL_SEED_DIR")
	env(&config.BlobBackend, "DBAL_BLOB_BACKEND")
	env(&config.BlobRoot, "DBAL_BLOB_ROOT")
	env(&config.BlobURL, "DBAL_BLOB_URL")
	env(&config.BlobBucket, "DBAL_BLOB_BUCKET")
	env(&config.BlobRegion, "DBAL_BLOB_REGION")
	env(&config.BlobAccessKey, "DBAL_BLOB_ACCESS_KEY")
	env(&config.BlobSecretKey, "DBAL_BLOB_SECRET_KEY")
	if value := os.Getenv("DBAL_SANDBOX"); value != "" {
		config.Sandbox = strings.EqualFold(value, "true") || value == "1"
	}
	if value := os.Getenv("DBAL_BLOB_PATH_STYLE"); value != "" {
		config.BlobPathStyle = strings.EqualFold(value, "true") || value == "1"
	}

	override := func(target *string, flag, value string) {
		if cmd.Flags().Changed(flag) {
			*target = value
		}
	}
	flags := runConfig{}
	flags.Bind, _ = cmd.Flags().GetString("bind")
	flags.Port, _ = cmd.Flags().GetString("port")
	flags.Mode, _ = cmd.Flags().GetString("mode")
	override(&config.Bind, "bind", flags.Bind)
	override(&config.Port, "port", flags.Port)
	override(&config.Mode, "mode", flags.Mode)
	config.Daemon, _ = cmd.Flags().GetBool("daemon")

	config.Mode = strings.ToLower(config.Mode)
	switch config.Mode {
	case "dev", "prod", "test":
	default:
		return config, fmt.Errorf("invalid mode %q: want dev, prod or test", config.Mode)
	}
	return config, nil
}

func run(config runConfig) error {
	// Re-exec detached when --daemon is given; the child sees DBAL_DAEMON
	// and skips this branch.
	if config.Daemon && os.Getenv("DBAL_DAEMON") == "" {
		cmd := exec.Command(os.Args[0], filterDaemonArgs(os.Args[1:])...)
		cmd.Env = append(os.Environ(), "DBAL_DAEMON=1")
		cmd.Stdout = nil
		cmd.Stderr = nil
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
		fmt.Printf("dbal started in background, pid %d\n", cmd.Process.Pid)
		return nil
	}

	log, err := newLogger(config)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := newRegistry(log.Named("registry"), config)
	defer func() { _ = reg.Close() }()

	blobs, err := newBlobBackend(config)
	if err != nil {
		return err
	}
	defer func() { _ = blobs.Close() }()

	schemaRegistry, err := schemas.NewRegistry(log.Named("schemas"), schemas.Config{
		PackagesPath: config.PackagesPath,
		RegistryPath: config.RegistryPath,
		OutputPath:   config.OutputPath,
	})
	if err != nil {
		return err
	}

	address := net.JoinHostPort(config.Bind, config.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	srv := server.New(log.Named("server"), server.Config{
		Address:    address,
		AdminToken: config.AdminToken,
		CORSOrigin: config.CORSOrigin,
		SeedDir:    config.SeedDir,
	}, reg, blobs, schemaRegistry, listener)
	defer func() { _ = srv.Close() }()

	log.Info("dbal starting",
		zap.String("address", address),
		zap.String("mode", config.Mode),
		zap.String("blob_backend", config.BlobBackend))
	return srv.Run(ctx)
}

// newRegistry builds the adapter registry. With no adapter configured, or
// with sandbox requested explicitly, the daemon comes up on the in-memory
// store so a bare `dbal` serves requests without a database behind it.
// /admin/config can still switch to a real adapter later.
func newRegistry(log *zap.Logger, config runConfig) *registry.Registry {
	reg := registry.New(log, registry.Config{
		Adapter:     config.Adapter,
		DatabaseURL: config.DatabaseURL,
		Mode:        config.Mode,
		Endpoint:    config.Endpoint,
		Sandbox:     config.Sandbox,
	})
	if config.Sandbox || (config.Adapter == "" && config.DatabaseURL == "") {
		reg.Install("sandbox", "", teststore.New())
		reg.SetSandbox(true)
		log.Info("sandbox mode, serving the in-memory store")
	}
	return reg
}

// filterDaemonArgs strips the daemon flag so the child does not re-exec.
func filterDaemonArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "--daemon" || arg == "-d" {
			continue
		}
		out = append(out, arg)
	}
	return out
}

func newLogger(config runConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if config.Mode == "prod" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	if config.LogLevel != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(config.LogLevel))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q", config.LogLevel)
		}
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}
	return zapConfig.Build()
}

func newBlobBackend(config runConfig) (storage.Blobs, error) {
	switch strings.ToLower(config.BlobBackend) {
	case "", "memory":
		return memblob.New(), nil
	case "filesystem":
		root := config.BlobRoot
		if root == "" {
			return nil, fmt.Errorf("filesystem blob backend requires DBAL_BLOB_ROOT")
		}
		return filestore.NewAt(root)
	case "s3":
		return s3blob.New(s3blob.Config{
			Endpoint:  config.BlobURL,
			Bucket:    config.BlobBucket,
			Region:    config.BlobRegion,
			AccessKey: config.BlobAccessKey,
			SecretKey: config.BlobSecretKey,
			PathStyle: config.BlobPathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown blob backend %q", config.BlobBackend)
	}
}
