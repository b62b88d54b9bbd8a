package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spectragram/benchworker/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": deps.App.Name,
		})
	})

	benchHandler := handler.NewBenchmarkHandler(deps)

	// Worker status endpoint
	r.GET("/status", benchHandler.Status)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		benchmarks := v1.Group("/benchmarks")
		{
			// GET /api/v1/benchmarks/:benchmark_id/runs - List a benchmark's runs
			benchmarks.GET("/:benchmark_id/runs", benchHandler.ListRuns)

			// GET /api/v1/benchmarks/:benchmark_id/runs/:job_run_id/summary - One run's metric summary
			benchmarks.GET("/:benchmark_id/runs/:job_run_id/summary", benchHandler.GetRunSummary)

			// GET /api/v1/benchmarks/:benchmark_id/summary - Latest run's metric summary
			benchmarks.GET("/:benchmark_id/summary", benchHandler.GetLatestSummary)
		}
	}

	return r
}
