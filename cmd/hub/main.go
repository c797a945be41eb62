package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/synapsehub/hub/internal/clock"
	"github.com/synapsehub/hub/internal/collab"
	"github.com/synapsehub/hub/internal/config"
	"github.com/synapsehub/hub/internal/domain/cascade"
	"github.com/synapsehub/hub/internal/domain/docsession"
	"github.com/synapsehub/hub/internal/domain/workspace"
	"github.com/synapsehub/hub/internal/domain/worldstate"
	"github.com/synapsehub/hub/internal/hubapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logWriter := io.Writer(os.Stdout)
	if logPath := os.Getenv("SYNAPSE_LOG_PATH"); logPath != "" {
		fileWriter, file, err := newLogFileWriter(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	clk := clock.System{}

	ws := workspace.New(clk)
	docs := docsession.NewManager(clk)
	docsession.GCGrace = cfg.DocGC.GracePeriod
	wrld := worldstate.NewEngine(clk, logger)
	casc := cascade.NewEngine(clk)

	changes := hubapi.NewChangeStream(ws, wrld)
	ws.SetBumpHook(changes.WorkspaceHook())
	wrld.SetBumpHook(changes.WorldstateHook())

	lockSweeper := workspace.NewLockSweeper(ws, cfg.Sweep.LockPeriod, logger)
	presenceSweeper := workspace.NewPresenceSweeper(ws, cfg.Presence.Period, cfg.Presence.DisconnectAfter, cfg.Presence.RemoveAfter, logger)
	ticker := worldstate.NewTicker(wrld, cfg.Converge.TickPeriod)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lockSweeper.Start(ctx)
	presenceSweeper.Start(ctx)
	ticker.Start(ctx)

	sessions := hubapi.NewSessionRegistry()
	dispatcher := hubapi.NewDispatcher(ws, docs, wrld, casc, sessions, cfg.Lock.DefaultTTL)
	apiMux := hubapi.NewServer(dispatcher, ws, docs, wrld, casc, changes)

	collabServer := collab.NewServer(docs, logger)
	apiMux.Handle("/collab", collabServer)

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: apiMux,
	}

	go func() {
		logger.Info("hub listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	waitForShutdown(logger, httpServer, cancel, lockSweeper, presenceSweeper, ticker)
}

func waitForShutdown(logger *slog.Logger, server *http.Server, cancel context.CancelFunc,
	lockSweeper *workspace.LockSweeper, presenceSweeper *workspace.PresenceSweeper, ticker *worldstate.Ticker) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()
	lockSweeper.Stop()
	presenceSweeper.Stop()
	ticker.Stop()

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const (
	maxLogSizeBytes  = 6 * 1024 * 1024
	keepLogSizeBytes = 5 * 1024 * 1024
)

type logFileWriter struct {
	file *os.File
	mu   sync.Mutex
}

func newLogFileWriter(path string) (*logFileWriter, *os.File, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	writer := &logFileWriter{file: file}
	if err := writer.truncateIfNeeded(); err != nil {
		return nil, nil, err
	}
	return writer, file, nil
}

func (w *logFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	if err != nil {
		return n, err
	}
	if err := w.truncateIfNeeded(); err != nil {
		return n, err
	}
	return n, nil
}

func (w *logFileWriter) truncateIfNeeded() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= maxLogSizeBytes {
		return nil
	}

	buf := make([]byte, keepLogSizeBytes)
	if _, err := w.file.Seek(size-keepLogSizeBytes, io.SeekStart); err != nil {
		return err
	}
	n, err := w.file.Read(buf)
	if err != nil && err != io.EOF {
		return err
	}
	buf = buf[:n]

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(buf); err != nil {
		return err
	}
	_, err = w.file.Seek(0, io.SeekEnd)
	return err
}
