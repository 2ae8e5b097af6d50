package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/julienschmidt/httprouter"
	"github.com/spf13/cobra"

	"github.com/okets/folder-mcp/cmd"
	"github.com/okets/folder-mcp/internal/config"
	"github.com/okets/folder-mcp/internal/controlplane"
	"github.com/okets/folder-mcp/internal/daemonctl"
	"github.com/okets/folder-mcp/internal/ignorepatterns"
	"github.com/okets/folder-mcp/internal/lifecycle"
	"github.com/okets/folder-mcp/internal/logging"
	"github.com/okets/folder-mcp/internal/model"
	"github.com/okets/folder-mcp/internal/pipeline"
	"github.com/okets/folder-mcp/internal/storage"
)

// defaultEmbeddingDimension is used to size a folder's storage when opened,
// since concrete embedding backends (and their native dimensionality) are
// out of scope; a real deployment would derive this from the configured
// model instead.
const defaultEmbeddingDimension = 384

func runMain(_ *cobra.Command, _ []string) error {
	logPath, err := daemonctl.LogPath()
	if err != nil {
		return fmt.Errorf("unable to compute daemon log path: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("unable to open daemon log: %w", err)
	}
	defer logFile.Close()

	logger := logging.NewRoot(io.MultiWriter(logFile, os.Stderr), logging.LevelInfo)

	daemonctl.Housekeep(logger.Sublogger("housekeep"))

	settings, err := config.Load(runConfiguration.configPath, runConfiguration.envPath)
	if err != nil {
		return fmt.Errorf("unable to load configuration: %w", err)
	}

	controlPlaneListener, err := controlplane.NewListener("127.0.0.1:0", maxControlPlaneConnections)
	if err != nil {
		return fmt.Errorf("unable to bind control plane listener: %w", err)
	}
	defer controlPlaneListener.Close()
	controlPlanePort := controlPlaneListener.Addr().(*net.TCPAddr).Port

	registration, err := daemonctl.Acquire(daemonctl.Record{HTTPPort: controlPlanePort})
	if err != nil {
		return fmt.Errorf("unable to acquire daemon singleton: %w", err)
	}
	defer registration.Release()

	registry := model.NewRegistry(logger.Sublogger("model"), nil, settings.ModelRegistry.Capacity)
	defer registry.Shutdown()

	manager := lifecycle.NewManager(lifecycle.ManagerConfig{
		Registry: registry,
		OpenStore: func(folderPath string) (*storage.Store, error) {
			return storage.Open(filepath.Join(folderPath, ".folder-mcp", "index.db"), defaultEmbeddingDimension)
		},
		NewParser: func() pipeline.Parser { return pipeline.PlainTextParser{} },
		NewChunker: func() pipeline.Chunker {
			return pipeline.FixedSizeChunker{Size: settings.Processing.ChunkSize, Overlap: settings.Processing.Overlap}
		},
		Concurrency: settings.Processing.MaxConcurrentOperations,
		Logger:      logger.Sublogger("lifecycle"),
	})

	for _, folder := range settings.Folders {
		ignore := append(append([]string{}, ignorepatterns.Defaults...), folder.Ignore...)
		if _, err := manager.StartFolder(lifecycle.FolderConfig{
			Path:           folder.Path,
			ModelID:        folder.Model,
			IgnorePatterns: ignore,
			Extensions:     folder.Extensions,
		}); err != nil {
			logger.Warn(fmt.Errorf("unable to start configured folder %q: %w", folder.Path, err))
		}
	}

	supervisor := daemonctl.NewSupervisor(childCommandFactory(), daemonctl.DefaultRestartPolicy(), logger.Sublogger("supervisor"))
	if err := supervisor.Start(context.Background()); err != nil {
		logger.Warn(fmt.Errorf("unable to start stdio front-end: %w", err))
	}
	defer supervisor.Stop()

	facade := controlplane.New(manager)
	service := controlplane.NewService(facade, logger.Sublogger("controlplane"))
	router := httprouter.New()
	service.Register(router)
	var shuttingDown atomic.Bool
	controlPlaneHandler := controlplane.Handler(router, "")
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shuttingDown.Load() {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		controlPlaneHandler.ServeHTTP(w, r)
	})}
	serverErrors := make(chan error, 1)
	go func() {
		if err := server.Serve(controlPlaneListener); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	defer server.Close()

	coordinator := daemonctl.NewCoordinator(daemonctl.ShutdownHooks{
		RejectRequests: func() { shuttingDown.Store(true) },
		StopFolders:    manager.StopAll,
		ShutdownModels: registry.Shutdown,
		StopChild:      supervisor.Stop,
	}, settings.ShutdownTimeout.Duration(), registration, logger)

	logger.Info("daemon started, pid", os.Getpid(), "control plane port", controlPlanePort)

	runErrors := make(chan error, 1)
	go func() { runErrors <- coordinator.Run(context.Background()) }()

	select {
	case err := <-serverErrors:
		logger.Error(fmt.Errorf("control plane server failed: %w", err))
		return err
	case err := <-runErrors:
		return err
	}
}

const maxControlPlaneConnections = 64

// childCommandFactory builds the folder-mcp stdio front-end process: the
// auxiliary child the Process Supervisor watches (spec §4.J).
func childCommandFactory() daemonctl.CommandFactory {
	return func(ctx context.Context) *exec.Cmd {
		executablePath, err := resolveSiblingExecutable("folder-mcp")
		if err != nil {
			executablePath = "folder-mcp"
		}
		cmd := exec.CommandContext(ctx, executablePath)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd
	}
}

// resolveSiblingExecutable locates name alongside the currently running
// executable, falling back to PATH lookup.
func resolveSiblingExecutable(name string) (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	candidate := filepath.Join(filepath.Dir(self), executableName(name))
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return exec.LookPath(executableName(name))
}

func executableName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

var runCommand = &cobra.Command{
	Use:          "run",
	Short:        "Run the folder-mcp daemon in the foreground",
	Args:         cmd.DisallowArguments,
	RunE:         runMain,
	Hidden:       true,
	SilenceUsage: true,
}

var runConfiguration struct {
	configPath string
	envPath    string
}

func init() {
	flags := runCommand.Flags()
	flags.SortFlags = false
	flags.StringVar(&runConfiguration.configPath, "config", defaultConfigPath(), "Path to the YAML configuration file")
	flags.StringVar(&runConfiguration.envPath, "env-file", "", "Path to a .env file for runtime overrides")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".folder-mcp", "config.yaml")
}
