package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	errs "github.com/techagentng/qwik/errors"
	"github.com/techagentng/qwik/server/response"
)

type searchRequest struct {
	Q string `form:"q" binding:"max=64"`
}

func (s *Server) handleInbox() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := getUserIDFromContext(c)
		if err != nil {
			respondAndAbort(c, "", http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}

		inbox, err := s.ChatService.Inbox(c.Request.Context(), userID)
		if err != nil {
			s.respondWithError(c, "unable to load inbox", err)
			return
		}
		response.JSON(c, "inbox retrieved successfully", http.StatusOK, inbox, nil)
	}
}

func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := getUserIDFromContext(c)
		if err != nil {
			respondAndAbort(c, "", http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}

		count, err := s.ChatService.UnreadCount(c.Request.Context(), userID)
		if err != nil {
			s.respondWithError(c, "unable to count unread messages", err)
			return
		}
		response.JSON(c, "unread count retrieved successfully", http.StatusOK, gin.H{"global_unread_count": count}, nil)
	}
}

func (s *Server) handleSearchUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := getUserIDFromContext(c)
		if err != nil {
			respondAndAbort(c, "", http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}

		var req searchRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			response.JSON(c, "invalid search query", http.StatusBadRequest, nil, err)
			return
		}

		results, err := s.ChatService.SearchUsers(c.Request.Context(), userID, req.Q)
		if err != nil {
			s.respondWithError(c, "unable to search users", err)
			return
		}
		response.JSON(c, "users retrieved successfully", http.StatusOK, results, nil)
	}
}

func (s *Server) handleOpenRoom() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := getUserIDFromContext(c)
		if err != nil {
			respondAndAbort(c, "", http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}

		room, err := s.ChatService.OpenRoom(c.Request.Context(), userID, c.Param("username"))
		if err != nil {
			s.respondWithError(c, "unable to open chat room", err)
			return
		}
		response.JSON(c, "chat room retrieved successfully", http.StatusOK, room, nil)
	}
}

func (s *Server) respondWithError(c *gin.Context, message string, err error) {
	e := errs.FromDomain(err)
	if e.Status >= http.StatusInternalServerError {
		s.Logger.Error(message, "path", c.FullPath(), "error", err)
	}
	response.JSON(c, message, e.Status, nil, e)
}
