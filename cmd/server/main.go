package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/offline-downloader/api"
	"github.com/yourusername/offline-downloader/api/handlers"
	"github.com/yourusername/offline-downloader/internal/app"
	"github.com/yourusername/offline-downloader/internal/infrastructure"
	"github.com/yourusername/offline-downloader/pkg/logger"
)

var (
	serverMode = flag.Bool("server-mode", false, "Internal flag: run in server mode (called by daemon)")
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	// If not in server mode, run as daemon
	if !*serverMode {
		startAsDaemon()
		return
	}

	// Run as server (called by daemon)
	runServer()
}

// startAsDaemon forks the current process and runs the server in background
func startAsDaemon() {
	execPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	}

	args := []string{"-server-mode"}
	if *configPath != "" {
		args = append(args, "-config", *configPath)
	}
	cmd := exec.Command(execPath, args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open /dev/null: %v\n", err)
		os.Exit(1)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Server started as daemon (PID: %d)\n", cmd.Process.Pid)
	os.Exit(0)
}

func runServer() {
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting offline-downloader server",
		zap.String("version", "1.0.0"),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("cache_dir", config.Download.CacheDir),
		zap.Int("concurrent_limit", config.Download.ConcurrentLimit))

	if err := os.MkdirAll(config.Download.CacheDir, 0755); err != nil {
		log.Fatal("Failed to create cache directory", zap.Error(err))
	}

	// Initialize persistence
	store, err := infrastructure.NewSQLiteStore(config.Download.DatabasePath, log)
	if err != nil {
		log.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer store.Close()

	fetchClient := &http.Client{Timeout: config.Download.FetchTimeout}

	// Initialize the license layer and the download engine
	licenses := infrastructure.NewLicenseManager(&config.DRM, log)
	keys := infrastructure.NewSoftwareKeySessionFactory()
	native := infrastructure.NewHTTPStreamDownloader(config.Download.CacheDir, fetchClient, log)
	engine := infrastructure.NewAssetDownloadEngine(native, keys, licenses, &config.Download, &config.DRM, log)
	native.SetCallbacks(engine)

	subtitles := infrastructure.NewSubtitleCache(config.Download.CacheDir, fetchClient, log)
	images := infrastructure.NewImageCache(config.Download.CacheDir, fetchClient, log)

	// Event stream toward the host application
	hub := handlers.NewEventHub(log)

	registry, err := app.NewRegistry(store, engine, subtitles, images, hub, log)
	if err != nil {
		log.Fatal("Failed to initialize download registry", zap.Error(err))
	}
	engine.SetDelegate(registry)

	router := api.SetupRouter(registry, hub, log)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// In-flight transfers are intentionally left to the engine: records
	// still Downloading are demoted to interrupted-paused on next start.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}
