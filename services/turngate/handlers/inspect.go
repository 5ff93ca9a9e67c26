package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/TurnGate/services/turngate/telemetry"
	"github.com/AleutianAI/TurnGate/services/turngate/writeback"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Inspection is an operator surface behind the deployment's own
		// network controls; the origin check adds nothing here.
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
}

const wsPingInterval = 30 * time.Second

// InspectTurnTaps serves GET /v1/inspect/turns/:turnId/taps.
//
// Returns every retrieval and stream tap recorded for the turn, in append
// order. A turn with no taps returns empty lists, not 404; taps are best
// effort and their absence is not proof the turn never ran.
func InspectTurnTaps(rec *telemetry.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		turnID := c.Param("turnId")
		if turnID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "turn id required"})
			return
		}

		taps, err := rec.TapsForTurn(c.Request.Context(), turnID)
		if err != nil {
			slog.Error("Failed to load taps", "turn_id", turnID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "tap lookup failed"})
			return
		}
		c.JSON(http.StatusOK, taps)
	}
}

// InspectStatePack serves GET /v1/inspect/conversations/:conversationId/statepack.
func InspectStatePack(repo writeback.StatePackRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id required"})
			return
		}

		pack, err := repo.Get(c.Request.Context(), conversationID)
		if err != nil {
			slog.Error("Failed to load statepack", "conversation_id", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "statepack lookup failed"})
			return
		}
		c.JSON(http.StatusOK, pack)
	}
}

// InspectTapFeed serves GET /v1/inspect/ws: a live websocket feed of taps
// as they are recorded.
//
// Each message is a telemetry.TapMessage. Slow consumers are dropped by
// the recorder rather than backpressuring the turn pipeline; a dropped
// or closed connection just ends the feed.
func InspectTapFeed(rec *telemetry.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade inspection websocket", "error", err)
			return
		}
		defer ws.Close()

		feed, cancel := rec.Subscribe()
		defer cancel()

		slog.Info("Inspection feed connected", "remote", ws.RemoteAddr().String())

		// Read pump: we expect no client messages, but reading is the
		// only way to observe a close frame.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-closed:
				slog.Info("Inspection feed disconnected")
				return
			case <-ping.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case msg, ok := <-feed:
				if !ok {
					return
				}
				if err := ws.WriteJSON(msg); err != nil {
					slog.Warn("Failed to write tap to feed", "error", err)
					return
				}
			}
		}
	}
}
