// Package api exposes mesh operations over HTTP for operators and the
// Pravha backend. It talks to the node and the bridge only; the mesh core
// has no knowledge of this layer.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Kunalchandra007/Pravha/internal/bridge"
	"github.com/Kunalchandra007/Pravha/internal/mesh"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Server struct {
	node   *mesh.Node
	bridge *bridge.Bridge
	port   int

	wsMu    sync.Mutex
	wsConns map[*websocket.Conn]struct{}
}

func NewServer(node *mesh.Node, b *bridge.Bridge, port int) *Server {
	s := &Server{
		node:    node,
		bridge:  b,
		port:    port,
		wsConns: make(map[*websocket.Conn]struct{}),
	}
	b.OnEmergency(s.pushEmergency)
	return s
}

// Routes registers all endpoints on the router. Split out so tests can mount
// them on a bare engine.
func (s *Server) Routes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/queues", s.getQueues)
		api.GET("/messages", s.getMessages)
		api.POST("/messages/sos", s.postSOS)
		api.POST("/messages/warning", s.postWarning)
		api.POST("/messages/flood-alert", s.postFloodAlert)
		api.GET("/network/nodes", s.getNodes)
		api.GET("/ws", s.handleWebSocket)
	}
}

func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	s.Routes(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	slog.Info("API server starting", "port", s.port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.bridge.Status())
}

func (s *Server) getQueues(c *gin.Context) {
	queues := make(map[string]int)
	for p, depth := range s.node.Router().QueueStatus() {
		queues[p.String()] = depth
	}
	c.JSON(http.StatusOK, gin.H{
		"queues":     queues,
		"flood_mode": s.node.Router().FloodMode(),
	})
}

func (s *Server) getMessages(c *gin.Context) {
	var summaries []bridge.Summary
	if t := c.Query("type"); t != "" {
		summaries = s.bridge.ReportsByType(mesh.MessageType(t))
	} else {
		summaries = s.bridge.Reports()
	}
	c.JSON(http.StatusOK, gin.H{"messages": summaries, "count": len(summaries)})
}

type sosRequest struct {
	EmergencyType   string   `json:"emergency_type"`
	Casualties      *int     `json:"casualties"`
	ResourcesNeeded []string `json:"resources_needed"`
}

func (s *Server) postSOS(c *gin.Context) {
	var req sosRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid SOS request"})
		return
	}
	if req.EmergencyType == "" {
		req.EmergencyType = "GENERAL"
	}
	if err := s.node.BroadcastSOS(req.EmergencyType, req.Casualties, req.ResourcesNeeded); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "SOS broadcast successfully"})
}

type warningRequest struct {
	WarningText string `json:"warning_text" binding:"required"`
	WarningType string `json:"warning_type"`
	Severity    string `json:"severity"`
}

func (s *Server) postWarning(c *gin.Context) {
	var req warningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "warning_text required"})
		return
	}
	if req.WarningType == "" {
		req.WarningType = "GENERAL"
	}
	if req.Severity == "" {
		req.Severity = "MEDIUM"
	}
	if err := s.node.BroadcastWarning(req.WarningText, req.WarningType, req.Severity); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Warning broadcast successfully"})
}

type floodAlertRequest struct {
	Probability *float64 `json:"probability" binding:"required"`
	Location    string   `json:"location" binding:"required"`
	Severity    string   `json:"severity"`
}

func (s *Server) postFloodAlert(c *gin.Context) {
	var req floodAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "probability and location required"})
		return
	}
	if req.Severity == "" {
		req.Severity = "MODERATE"
	}
	if err := s.bridge.SubmitFloodAlert(*req.Probability, req.Location, req.Severity); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Flood alert broadcast successfully"})
}

func (s *Server) getNodes(c *gin.Context) {
	status := s.node.Status()
	c.JSON(http.StatusOK, gin.H{
		"connected_nodes": status.ConnectedNodeList,
		"count":           status.ConnectedNodes,
	})
}

// handleWebSocket upgrades the connection and streams emergency summaries to
// it until the client goes away.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}

	s.wsMu.Lock()
	s.wsConns[conn] = struct{}{}
	s.wsMu.Unlock()

	// reader loop exists only to notice the close
	go func() {
		defer func() {
			s.wsMu.Lock()
			delete(s.wsConns, conn)
			s.wsMu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) pushEmergency(summary bridge.Summary) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for conn := range s.wsConns {
		if err := conn.WriteJSON(summary); err != nil {
			delete(s.wsConns, conn)
			conn.Close()
		}
	}
}
