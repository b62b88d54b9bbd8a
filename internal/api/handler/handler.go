package handler

import (
	"log/slog"
	"time"

	"github.com/spectragram/benchworker/internal/api/storage"
	"github.com/spectragram/benchworker/internal/benchmark/store"
	"github.com/spectragram/benchworker/internal/worker"
)

// StatsSource reports the polling worker's job counters
type StatsSource interface {
	Stats() worker.Stats
}

// AppInfo identifies the running service in status responses
type AppInfo struct {
	Name        string
	Version     string
	Environment string
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Store  *store.Store
	Runs   *storage.Storage
	Stats  StatsSource
	App    AppInfo
}

// BenchmarkHandler serves the worker's status and result endpoints
type BenchmarkHandler struct {
	logger    *slog.Logger
	store     *store.Store
	runs      *storage.Storage
	stats     StatsSource
	app       AppInfo
	startedAt time.Time
}

// NewBenchmarkHandler creates a new BenchmarkHandler instance
func NewBenchmarkHandler(deps *Dependencies) *BenchmarkHandler {
	return &BenchmarkHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		runs:      deps.Runs,
		stats:     deps.Stats,
		app:       deps.App,
		startedAt: time.Now(),
	}
}
