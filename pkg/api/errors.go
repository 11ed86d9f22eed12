package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/codeclash-io/codeclash/pkg/coach"
	"github.com/codeclash-io/codeclash/pkg/match"
	"github.com/codeclash-io/codeclash/pkg/matchmaking"
	"github.com/codeclash-io/codeclash/pkg/services"
)

// respondError maps a domain error to an HTTP status and JSON body. Unknown
// errors are logged with a correlation id that is echoed to the client.
func respondError(c *gin.Context, err error) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message, "field": ve.Field})
	case errors.Is(err, services.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "operation not permitted"})
	case errors.Is(err, services.ErrNotFound),
		errors.Is(err, match.ErrMatchNotFound),
		errors.Is(err, matchmaking.ErrNotQueued):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrAlreadyExists),
		errors.Is(err, match.ErrMatchOver),
		errors.Is(err, match.ErrMatchNotActive),
		errors.Is(err, match.ErrCompletionInProgress),
		errors.Is(err, coach.ErrHintsExhausted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, match.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant in this match"})
	case errors.Is(err, coach.ErrHintRateLimited):
		c.Header("Retry-After", "30")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "hint requests are rate limited"})
	case errors.Is(err, coach.ErrInsufficientAnalyses):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "execution timed out"})
	default:
		correlationID := uuid.New().String()
		slog.Error("Request failed", "correlation_id", correlationID,
			"path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":          "internal server error",
			"correlation_id": correlationID,
		})
	}
}
