package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeclash-io/codeclash/pkg/leaderboard"
)

// leaderboardPeriod validates the :period path segment, responding 400 on an
// unknown window.
func leaderboardPeriod(c *gin.Context) (leaderboard.Period, bool) {
	period := leaderboard.Period(c.Param("period"))
	if !leaderboard.ValidPeriod(period) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown leaderboard period", "field": "period"})
		return "", false
	}
	return period, true
}

func (s *Server) handleLeaderboardTop(c *gin.Context) {
	period, ok := leaderboardPeriod(c)
	if !ok {
		return
	}
	n := intQuery(c, "n", 10)

	entries, err := s.board.TopN(c.Request.Context(), period, n)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "entries": entries})
}

func (s *Server) handleLeaderboardRank(c *gin.Context) {
	period, ok := leaderboardPeriod(c)
	if !ok {
		return
	}

	entry, err := s.board.Rank(c.Request.Context(), period, c.Param("userId"))
	if err != nil {
		if errors.Is(err, leaderboard.ErrUserNotRanked) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not ranked in this period"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) handleLeaderboardAround(c *gin.Context) {
	period, ok := leaderboardPeriod(c)
	if !ok {
		return
	}
	window := intQuery(c, "window", 2)

	entries, err := s.board.Around(c.Request.Context(), period, c.Param("userId"), window)
	if err != nil {
		if errors.Is(err, leaderboard.ErrUserNotRanked) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not ranked in this period"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "entries": entries})
}
