// Package server exposes the backtest runner over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vixgate/internal/backtest"
	"vixgate/internal/journal"
	"vixgate/internal/logging"
	"vixgate/internal/runner"
	"vixgate/internal/series"
)

// Server wires the HTTP API to a Runner.
type Server struct {
	log    *zap.Logger
	runner *runner.Runner
}

func New(r *runner.Runner, log *zap.Logger) *Server {
	if log == nil {
		log = logging.Get()
	}
	return &Server{log: log, runner: r}
}

// Router builds the gin engine with all API routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/backtest")
	api.POST("/run", s.handleRun)
	api.GET("/progress/:key", s.handleProgress)
	api.GET("/result/:key", s.handleResult)
	api.POST("/metrics", s.handleMetrics)
	api.GET("/runs", s.handleList)
	api.DELETE("/:key", s.handleDelete)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("http server listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type runRequest struct {
	Strategy     string `json:"strategy" binding:"required"`
	Symbol       string `json:"symbol" binding:"required"`
	Frequency    string `json:"frequency"`
	AssetCSV     string `json:"asset_csv" binding:"required"`
	VIXCSV       string `json:"vix_csv" binding:"required"`
	VVIXCSV      string `json:"vvix_csv" binding:"required"`
	DividendsCSV string `json:"dividends_csv"`
	DailyIndices bool   `json:"daily_indices"`

	VIXLower   float64 `json:"vix_lower"`
	VIXUpper   float64 `json:"vix_upper"`
	VVIXLower  float64 `json:"vvix_lower"`
	VVIXUpper  float64 `json:"vvix_upper"`
	Investment float64 `json:"investment"`

	TSLPercentage float64 `json:"tsl_percentage"`
	WaitPeriod    int     `json:"wait_period"`
	IgnoreLow     bool    `json:"ignore_low"`
}

func (s *Server) handleRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Frequency == "" {
		req.Frequency = series.FreqDay
	}

	rows, err := series.LoadMerged(series.LoadSpec{
		Symbol:        req.Symbol,
		Frequency:     req.Frequency,
		AssetPath:     req.AssetCSV,
		VIXPath:       req.VIXCSV,
		VVIXPath:      req.VVIXCSV,
		DividendsPath: req.DividendsCSV,
		DailyIndices:  req.DailyIndices,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key, err := s.runner.Start(c.Request.Context(), runner.Request{
		Strategy: req.Strategy,
		Symbol:   req.Symbol,
		Rows:     rows,
		Params: backtest.TSLParams{
			Params: backtest.Params{
				VIXLowerBound:     req.VIXLower,
				VIXUpperBound:     req.VIXUpper,
				VVIXLowerBound:    req.VVIXLower,
				VVIXUpperBound:    req.VVIXUpper,
				InitialInvestment: req.Investment,
			},
			TSLPercentage: req.TSLPercentage,
			WaitPeriod:    req.WaitPeriod,
			IgnoreLow:     req.IgnoreLow,
		},
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"progress_key": key})
}

func (s *Server) handleProgress(c *gin.Context) {
	p, err := s.runner.Progress(c.Request.Context(), c.Param("key"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleResult(c *gin.Context) {
	rec, err := s.runner.Result(c.Request.Context(), c.Param("key"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	if rec.Status == journal.StatusRunning {
		c.JSON(http.StatusAccepted, gin.H{"status": rec.Status})
		return
	}
	c.JSON(http.StatusOK, rec)
}

type metricsRequest struct {
	Key   string `json:"key" binding:"required"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// handleMetrics recomputes the metrics over a sub-period of a finished run.
func (s *Server) handleMetrics(c *gin.Context) {
	var req metricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start, err := parsePeriodTime(req.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := parsePeriodTime(req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := s.runner.Result(c.Request.Context(), req.Key)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if rec.Status != journal.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "run is not completed", "status": rec.Status})
		return
	}

	metrics := backtest.PeriodMetrics(rec.Rows, start, end, rec.Metrics["initial_value"])
	c.JSON(http.StatusOK, gin.H{"key": req.Key, "metrics": metrics})
}

func (s *Server) handleList(c *gin.Context) {
	runs, err := s.runner.List(c.Request.Context(), 100)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.runner.Delete(c.Request.Context(), c.Param("key")); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("key")})
}

func (s *Server) renderError(c *gin.Context, err error) {
	if errors.Is(err, journal.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func parsePeriodTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unrecognized time, want RFC3339 or YYYY-MM-DD")
}
