package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/techagentng/qwik/config"
	"github.com/techagentng/qwik/db"
	"github.com/techagentng/qwik/logger"
	"github.com/techagentng/qwik/realtime"
	"github.com/techagentng/qwik/services"
)

// Server serves the chat API and the chat websocket.
type Server struct {
	Config         *config.Config
	Logger         *logger.Logger
	AuthRepository db.AuthRepository
	ChatRepository db.ChatRepository
	ChatService    services.ChatService
	Bus            realtime.Bus

	initOnce sync.Once
	stopOnce sync.Once
	closing  chan struct{}
}

func (s *Server) closingCh() chan struct{} {
	s.initOnce.Do(func() {
		s.closing = make(chan struct{})
	})
	return s.closing
}

// Shutdown tells every open websocket to close. HTTP requests are drained
// by Start.
func (s *Server) Shutdown() {
	ch := s.closingCh()
	s.stopOnce.Do(func() {
		close(ch)
	})
}

func (s *Server) Start() {
	r := s.setupRouter()

	PORT := fmt.Sprintf(":%d", s.Config.Port)
	if PORT == ":0" {
		PORT = ":8080"
	}
	srv := &http.Server{
		Addr:    PORT,
		Handler: r,
	}
	go func() {
		s.Logger.Info("server started", "addr", PORT)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.Logger.Fatal("listen", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	s.Logger.Info("shutting down server")

	s.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.Logger.Error("server forced to shutdown", "error", err)
	}
	if err := s.Bus.Close(); err != nil {
		s.Logger.Warn("close bus", "error", err)
	}
	s.Logger.Info("server exiting")
}
