package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/The-Promised-Neverland/dropline/internal/models"
	"github.com/The-Promised-Neverland/dropline/internal/transfer"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Core is the part of a session the bridge exposes to the UI.
type Core interface {
	Name() string
	RoomCode() string
	Online() bool
	PublicEndpoint() string
	Peers() []models.PeerInfo
	Join(code string) error
	SendText(text string) error
	SendTextTo(peer, text string) error
	OfferFile(path string) error
	RequestFile(peer, filename string, dst transfer.Destination, size int64) error
}

// Server is the local HTTP and WebSocket bridge between a session and its UI.
type Server struct {
	core    Core
	hub     *Hub
	router  *gin.Engine
	started time.Time
}

func New(core Core) *Server {
	s := &Server{
		core:    core,
		hub:     NewHub(),
		started: time.Now(),
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Publish forwards a session event to every connected UI.
func (s *Server) Publish(e models.Event) {
	s.hub.Broadcast(envelopeFor(e))
}

// ListenAndServe serves on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Log.Warn("Bridge shutdown failed", "err", err)
		}
	})
	defer stop()

	logger.Log.Info("🌉 UI bridge listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), corsMiddleware())

	router.GET("/health", s.healthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/room", s.getRoom)
		v1.POST("/room/join", s.joinRoom)
		v1.GET("/peers", s.listPeers)
		v1.POST("/messages", s.sendMessage)

		files := v1.Group("/files")
		{
			files.POST("/offer", s.offerFile)
			files.POST("/request", s.requestFile)
		}
	}
	router.GET("/ws", s.upgrade)
	return router
}
