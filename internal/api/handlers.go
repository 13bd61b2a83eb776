package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"wyckoff-signal-engine/internal/campaign"
	"wyckoff-signal-engine/internal/events"
	"wyckoff-signal-engine/internal/market"
	"wyckoff-signal-engine/internal/signals"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// handlePipelineStatus reports per-symbol pipeline health: active workers,
// dispatch sequences, queue depth, and any worker failures.
func (s *Server) handlePipelineStatus(c *gin.Context) {
	symbols := s.engine.Symbols()

	workers := make([]gin.H, 0, len(symbols))
	for _, symbol := range symbols {
		w := gin.H{
			"symbol":        symbol,
			"last_sequence": s.queue.LastSequence(symbol),
		}
		if err := s.engine.WorkerFailure(symbol); err != nil {
			w["failed"] = err.Error()
		}
		if cmp, ok := s.campaigns.Active(symbol); ok {
			w["campaign_id"] = cmp.ID
			w["campaign_status"] = cmp.Status
		}
		workers = append(workers, w)
	}

	c.JSON(http.StatusOK, gin.H{
		"symbols":     len(symbols),
		"queue_depth": s.queue.Depth(),
		"workers":     workers,
	})
}

// handleGetSignals returns persisted signals when the database is enabled,
// falling back to the in-memory campaign state otherwise.
func (s *Server) handleGetSignals(c *gin.Context) {
	symbol := c.Query("symbol")
	status := c.Query("status")

	if s.repo != nil {
		records, err := s.repo.GetSignals(c.Request.Context(), symbol, status, 200)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"signals": records})
		return
	}

	var out []gin.H
	for _, cmp := range s.campaigns.All() {
		if symbol != "" && cmp.Symbol != symbol {
			continue
		}
		for _, sig := range cmp.Signals {
			if status != "" && string(sig.Status) != status {
				continue
			}
			out = append(out, gin.H{
				"id":          sig.ID,
				"symbol":      sig.Symbol,
				"pattern":     sig.Detection.Kind,
				"direction":   sig.Direction,
				"entry_price": sig.EntryPrice,
				"stop_loss":   sig.StopLoss,
				"target":      sig.TargetPrice,
				"r_multiple":  sig.RMultiple,
				"confidence":  sig.ConfidenceScore,
				"status":      sig.Status,
				"campaign_id": cmp.ID,
				"created_at":  sig.CreatedAt,
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"signals": out})
}

// handleGetCampaigns returns campaign state, preferring the live in-memory
// manager which is always current.
func (s *Server) handleGetCampaigns(c *gin.Context) {
	symbol := c.Query("symbol")
	status := c.Query("status")

	var out []gin.H
	for _, cmp := range s.campaigns.All() {
		if symbol != "" && cmp.Symbol != symbol {
			continue
		}
		if status != "" && string(cmp.Status) != status {
			continue
		}
		out = append(out, gin.H{
			"id":        cmp.ID,
			"symbol":    cmp.Symbol,
			"cycle":     cmp.Cycle,
			"status":    cmp.Status,
			"signals":   cmp.SignalIDs(),
			"open_bar":  cmp.OpenBar,
			"close_bar": cmp.CloseBar,
			"opened_at": cmp.OpenedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": out})
}

// handleGetRejections returns the persisted rejection audit trail. Requires
// the database; the pipeline does not keep rejections in memory.
func (s *Server) handleGetRejections(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}

	records, err := s.repo.GetRejections(c.Request.Context(), c.Query("symbol"), 200)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rejections": records})
}

// handleIngestBars accepts a batch of closed bars and feeds them into the
// pipeline. Malformed bars are rejected inside the pipeline, not here; this
// handler only rejects unparseable requests.
func (s *Server) handleIngestBars(c *gin.Context) {
	var bars []market.Bar
	if err := c.ShouldBindJSON(&bars); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(bars) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no bars in request"})
		return
	}

	accepted := 0
	for _, bar := range bars {
		if err := s.engine.Ingest(bar); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":    err.Error(),
				"accepted": accepted,
			})
			return
		}
		accepted++
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

// handleUpdateSignalStatus applies an execution-side status report (fill,
// stop, target hit, expiry) to a dispatched signal and recomputes its
// campaign's aggregate status.
func (s *Server) handleUpdateSignalStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signal id"})
		return
	}

	var req struct {
		Status   string `json:"status" binding:"required"`
		BarIndex int    `json:"bar_index"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	cmp, err := s.campaigns.UpdateSignal(id, signals.Status(req.Status), req.BarIndex)
	if err != nil {
		switch {
		case errors.Is(err, campaign.ErrSignalNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, signals.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	if s.repo != nil {
		if err := s.repo.UpdateSignalStatus(c.Request.Context(), id, req.Status); err != nil {
			log.Printf("Failed to persist signal status: %v", err)
		}
	}

	if cmp.Status == campaign.StatusClosed {
		s.bus.Publish(events.Event{
			Type:   events.EventCampaignClosed,
			Symbol: cmp.Symbol,
			Data: map[string]interface{}{
				"campaign_id": cmp.ID.String(),
				"close_bar":   cmp.CloseBar,
			},
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"signal_id":       id,
		"status":          req.Status,
		"campaign_id":     cmp.ID,
		"campaign_status": cmp.Status,
	})
}
