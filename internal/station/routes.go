package station

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/pipetctl/internal/auth"
	"github.com/danmuck/pipetctl/internal/journal"
	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunRequest is the body of POST /runs.
type RunRequest struct {
	Protocol string `json:"protocol"`
	Columns  int    `json:"columns"`
	TestMode *bool  `json:"test_mode,omitempty"`
	DNase    *bool  `json:"dnase,omitempty"`
}

func (r RunRequest) withDefaults(d RunRequest) RunRequest {
	if r.Protocol == "" {
		r.Protocol = d.Protocol
	}
	if r.Columns == 0 {
		r.Columns = d.Columns
	}
	if r.TestMode == nil {
		r.TestMode = d.TestMode
	}
	if r.DNase == nil {
		r.DNase = d.DNase
	}
	return r
}

func (r RunRequest) options() protocol.RunOptions {
	return protocol.RunOptions{
		Columns:  r.Columns,
		TestMode: r.TestMode != nil && *r.TestMode,
		DNase:    r.DNase != nil && *r.DNase,
	}
}

// ProtocolSummary is one entry of GET /protocols.
type ProtocolSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
	MaxColumns  int    `json:"max_columns"`
}

func summarize(def *protocol.Definition) ProtocolSummary {
	maxColumns := def.MaxColumns
	if maxColumns == 0 {
		maxColumns = labware.MaxSampleColumns
	}
	return ProtocolSummary{
		ID:          def.ID,
		Title:       def.Title,
		Description: def.Description,
		Steps:       len(def.Steps),
		MaxColumns:  maxColumns,
	}
}

// statusFor maps domain errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrUnknownProtocol),
		errors.Is(err, journal.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBusy),
		errors.Is(err, ErrNotActive):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrRunOptions),
		errors.Is(err, protocol.ErrInvalidDefinition),
		errors.Is(err, protocol.ErrInvalidStep):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// operator rejects requests without a valid bearer token when the station
// has a validator.
func (s *Station) operator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.auth == nil {
			c.Next()
			return
		}
		if err := auth.Check(s.auth, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func (s *Station) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.appeared).String(),
			"component": s.name,
			"version":   "0.1.0",
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		active, busy := s.Active()
		c.JSON(http.StatusOK, gin.H{
			"ready":      true,
			"busy":       busy,
			"active_run": active,
			"uptime":     time.Since(s.appeared).String(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/protocols", func(c *gin.Context) {
		defs := s.registry.List()
		out := make([]ProtocolSummary, 0, len(defs))
		for _, def := range defs {
			out = append(out, summarize(def))
		}
		c.JSON(http.StatusOK, gin.H{"protocols": out})
	})

	s.router.GET("/protocols/:id/recap", func(c *gin.Context) {
		def, err := s.registry.Resolve(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		req := RunRequest{Protocol: def.ID}
		if raw := c.Query("columns"); raw != "" {
			columns, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "columns must be an integer"})
				return
			}
			req.Columns = columns
		}
		if raw := c.Query("test_mode"); raw != "" {
			testMode, err := strconv.ParseBool(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "test_mode must be a boolean"})
				return
			}
			req.TestMode = &testMode
		}
		if raw := c.Query("dnase"); raw != "" {
			dnase, err := strconv.ParseBool(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "dnase must be a boolean"})
				return
			}
			req.DNase = &dnase
		}
		setup, err := protocol.Recap(def, req.withDefaults(s.defaults).options())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, setup)
	})

	s.router.POST("/runs", s.operator(), func(c *gin.Context) {
		var req RunRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		run, err := s.Start(req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, run)
	})

	s.router.GET("/runs", func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		runs, err := s.journal.List(c.Request.Context(), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		if runs == nil {
			runs = []journal.Run{}
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	})

	s.router.GET("/runs/:id", func(c *gin.Context) {
		run, err := s.journal.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		steps, err := s.journal.Steps(c.Request.Context(), run.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		if steps == nil {
			steps = []journal.StepRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"run": run, "steps": steps})
	})

	s.router.DELETE("/runs/:id", s.operator(), func(c *gin.Context) {
		id := c.Param("id")
		if _, err := s.journal.Get(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		if err := s.Cancel(id); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "canceling"})
	})
}
