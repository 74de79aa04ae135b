package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"
)

// Error is an error that knows which HTTP status it should be rendered with.
type Error struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (e *Error) Error() string {
	return e.Message
}

// New returns an *Error with the given message and status
func New(message string, status int) *Error {
	return &Error{
		Message: message,
		Status:  status,
	}
}

var (
	ErrInternalServerError = New("internal server error", http.StatusInternalServerError)
	ErrNotFound            = New("not found", http.StatusNotFound)
	ErrBadRequest          = New("bad request", http.StatusBadRequest)
	ErrUnauthorized        = New("Unauthorized", http.StatusUnauthorized)

	InActiveUserError = stderrors.New("user is inactive")
)

// Chat errors. Each one is scoped to a single connection or a single event.
var (
	ErrUnauthenticated  = stderrors.New("unauthenticated connection")
	ErrMalformedEvent   = stderrors.New("malformed event")
	ErrPersistence      = stderrors.New("message persistence failed")
	ErrNotJoined        = stderrors.New("session has not joined a chat room")
	ErrUserNotFound     = stderrors.New("user not found")
	ErrThreadNotFound   = stderrors.New("thread not found")
	ErrSelfConversation = stderrors.New("cannot open a conversation with yourself")
	ErrSessionClosed    = stderrors.New("session is closed")
	ErrBusClosed        = stderrors.New("bus is closed")
)

// FromDomain maps a domain error onto the *Error that should be returned to
// an HTTP client.
func FromDomain(err error) *Error {
	var e *Error
	switch {
	case err == nil:
		return nil
	case stderrors.As(err, &e):
		return e
	case stderrors.Is(err, ErrUserNotFound), stderrors.Is(err, ErrThreadNotFound):
		return New(err.Error(), http.StatusNotFound)
	case stderrors.Is(err, ErrSelfConversation), stderrors.Is(err, ErrMalformedEvent):
		return New(err.Error(), http.StatusBadRequest)
	case stderrors.Is(err, ErrUnauthenticated), stderrors.Is(err, InActiveUserError):
		return New(err.Error(), http.StatusUnauthorized)
	default:
		return ErrInternalServerError
	}
}

// ErrorHandler renders a rate limit rejection.
func ErrorHandler(c *gin.Context, info ratelimit.Info) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		"message":   fmt.Sprintf("too many requests, try again in %s", time.Until(info.ResetTime).Round(time.Second)),
		"data":      nil,
		"errors":    "rate limit exceeded",
		"status":    http.StatusText(http.StatusTooManyRequests),
		"timestamp": time.Now().Format("2006-01-02 15:04:05"),
	})
}
