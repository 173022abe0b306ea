package bridge

import (
	"errors"
	"net/http"
	"time"

	"github.com/The-Promised-Neverland/dropline/internal/models"
	"github.com/The-Promised-Neverland/dropline/internal/router"
	"github.com/The-Promised-Neverland/dropline/internal/session"
	"github.com/The-Promised-Neverland/dropline/internal/transfer"
	"github.com/gin-gonic/gin"
)

type joinRequest struct {
	Code string `json:"code" binding:"required"`
}

type messageRequest struct {
	Text string `json:"text" binding:"required"`
	// Peer limits delivery to one peer; empty broadcasts to the room.
	Peer string `json:"peer"`
}

type offerRequest struct {
	Path string `json:"path" binding:"required"`
}

type fileRequest struct {
	Peer     string `json:"peer" binding:"required"`
	Filename string `json:"filename" binding:"required"`
	Size     *int64 `json:"size"`
}

type roomView struct {
	Name           string `json:"name"`
	Code           string `json:"code"`
	Online         bool   `json:"online"`
	PublicEndpoint string `json:"public_endpoint,omitempty"`
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, models.Envelope{
		Type: "health_check",
		Payload: models.HealthCheck{
			Status: "Healthy",
			Uptime: int64(time.Since(s.started).Seconds()),
		},
	})
}

func (s *Server) getRoom(c *gin.Context) {
	c.JSON(http.StatusOK, models.Envelope{Type: "room", Payload: s.room()})
}

func (s *Server) room() roomView {
	return roomView{
		Name:           s.core.Name(),
		Code:           s.core.RoomCode(),
		Online:         s.core.Online(),
		PublicEndpoint: s.core.PublicEndpoint(),
	}
}

func (s *Server) listPeers(c *gin.Context) {
	c.JSON(http.StatusOK, models.Envelope{Type: "peer_list", Payload: s.core.Peers()})
}

func (s *Server) joinRoom(c *gin.Context) {
	var req joinRequest
	if !bind(c, &req) {
		return
	}
	if err := s.core.Join(req.Code); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "Joining room " + req.Code})
}

func (s *Server) sendMessage(c *gin.Context) {
	var req messageRequest
	if !bind(c, &req) {
		return
	}
	var err error
	if req.Peer != "" {
		err = s.core.SendTextTo(req.Peer, req.Text)
	} else {
		err = s.core.SendText(req.Text)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) offerFile(c *gin.Context) {
	var req offerRequest
	if !bind(c, &req) {
		return
	}
	if err := s.core.OfferFile(req.Path); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) requestFile(c *gin.Context) {
	var req fileRequest
	if !bind(c, &req) {
		return
	}
	size := int64(-1)
	if req.Size != nil {
		size = *req.Size
	}
	if err := s.core.RequestFile(req.Peer, req.Filename, nil, size); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "Requested " + req.Filename + " from " + req.Peer})
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Binding error: " + err.Error()})
		return false
	}
	return true
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrOffline), errors.Is(err, router.ErrNoRoute):
		status = http.StatusServiceUnavailable
	case errors.Is(err, transfer.ErrSourceMissing):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"success": false, "message": err.Error()})
}
