package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"wirewarden/internal/store"
)

// error maps a failure from the store or plan layer onto a status code and
// the {"error": msg} envelope. Anything unclassified is internal: the detail
// is logged, never returned.
func (s *Server) error(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNetworkNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrDuplicateNetwork),
		errors.Is(err, store.ErrDuplicateName),
		errors.Is(err, store.ErrOffsetConflict),
		errors.Is(err, store.ErrNetworkFull):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
