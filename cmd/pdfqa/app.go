package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/kalambet/pdfqa/internal/backend"
	"github.com/kalambet/pdfqa/internal/config"
	"github.com/kalambet/pdfqa/internal/flow"
	"github.com/kalambet/pdfqa/internal/inventory"
	"github.com/kalambet/pdfqa/internal/session"
	"github.com/kalambet/pdfqa/internal/status"
	"github.com/kalambet/pdfqa/internal/storage"
	"github.com/kalambet/pdfqa/internal/upload"
)

// loadConfig is replaced in tests.
var loadConfig = config.Load

// app is everything a command needs, wired from one Config.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *storage.Store
	client   *backend.Client
	inv      *inventory.Cache
	status   *status.Channel
	ctrl     *flow.Controller
	uploader *upload.Uploader
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] unknown log level %q. Using info.\n", level)
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// openApp opens local storage and builds the controller with the persisted
// transcript restored.
func openApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	settings, err := cfg.FlowSettings()
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	client := backend.New(cfg.Backend.BaseURL,
		backend.WithUploadURL(cfg.UploadURL()),
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithLogger(logger),
	)
	sessions := session.NewManager(store, client, logger)
	inv := inventory.New(client, cfg.Inventory.CacheTTL, logger)
	st := status.New(cfg.Status.ResultTTL)

	ctrl := flow.New(client, sessions,
		flow.WithInventory(inv),
		flow.WithStatus(st),
		flow.WithTranscript(store),
		flow.WithLogger(logger),
		flow.WithSettings(settings),
	)
	if msgs, err := store.Messages(0); err != nil {
		logger.Warn("loading transcript", "error", err)
	} else {
		ctrl.Restore(msgs)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		client:   client,
		inv:      inv,
		status:   st,
		ctrl:     ctrl,
		uploader: upload.New(client, inv, upload.WithStatus(st), upload.WithLogger(logger)),
	}, nil
}

// setup loads config and opens the app with logs on stderr.
func setup() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return openApp(cfg, newLogger(os.Stderr, cfg.Log.Level))
}

func (a *app) Close() error {
	a.status.Close()
	return a.store.Close()
}

// echoStatus prints every new status line to w as a step.
func (a *app) echoStatus(w io.Writer) {
	var (
		mu   sync.Mutex
		last string
	)
	a.status.OnChange(func() {
		line := a.status.Snapshot().Line.String()
		mu.Lock()
		defer mu.Unlock()
		if line == "" || line == last {
			last = line
			return
		}
		last = line
		printStep(w, "%s", line)
	})
}
