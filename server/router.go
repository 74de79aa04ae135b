package server

import (
	"fmt"
	"net/http"
	"os"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRouter() *gin.Engine {
	ginMode := os.Getenv("GIN_MODE")
	if ginMode == "test" {
		r := gin.New()
		s.defineRoutes(r)
		return r
	}

	r := gin.New()

	// LoggerWithFormatter middleware will write the logs to gin.DefaultWriter
	// By default gin.DefaultWriter = os.Stdout
	r.Use(gin.LoggerWithFormatter(accessLogFormatter))
	r.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if origins := s.Config.Origins(); len(origins) > 0 {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	r.Use(cors.New(corsConfig))
	s.defineRoutes(r)

	return r
}

// accessLogFormatter never prints the token query value: browsers cannot
// set headers on a websocket handshake, so the JWT rides in the URL.
func accessLogFormatter(param gin.LogFormatterParams) string {
	return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
		param.ClientIP,
		param.TimeStamp.Format(time.RFC1123),
		param.Method,
		redactedPath(param.Request),
		param.Request.Proto,
		param.StatusCode,
		param.Latency,
		param.Request.UserAgent(),
		param.ErrorMessage,
	)
}

func redactedPath(r *http.Request) string {
	query := r.URL.Query()
	if len(query) == 0 {
		return r.URL.Path
	}
	if _, ok := query["token"]; ok {
		query.Set("token", "REDACTED")
	}
	return r.URL.Path + "?" + query.Encode()
}

func (s *Server) defineRoutes(router *gin.Engine) {
	store := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  time.Minute,
		Limit: s.searchRate(),
	})
	limitSearch := limitRateForSearch(store)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apirouter := router.Group("/api/v1")
	authorized := apirouter.Group("/")
	authorized.Use(s.Authorize())
	authorized.GET("/ws/chat/:user_id", s.handleChatSocket())
	authorized.GET("/chats", s.handleInbox())
	authorized.GET("/chats/unread", s.handleUnreadCount())
	authorized.GET("/chats/search", limitSearch, s.handleSearchUsers())
	authorized.GET("/chats/room/:username", s.handleOpenRoom())
}

func (s *Server) searchRate() uint {
	if s.Config.SearchRatePerMinute == 0 {
		return 30
	}
	return s.Config.SearchRatePerMinute
}
