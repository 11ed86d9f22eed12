package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeclash-io/codeclash/pkg/match"
	"github.com/codeclash-io/codeclash/pkg/models"
)

func (s *Server) handleActiveMatches(c *gin.Context) {
	matches, err := s.matches.ListActive(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

// handleGetMatch prefers the live ephemeral state; once that has expired the
// persistent row answers.
func (s *Server) handleGetMatch(c *gin.Context) {
	matchID := c.Param("id")

	state, err := s.machine.Get(c.Request.Context(), matchID)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"state": state})
		return
	}
	if !errors.Is(err, match.ErrMatchNotFound) {
		respondError(c, err)
		return
	}

	row, err := s.matches.Row(c.Request.Context(), matchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"match": row})
}

func (s *Server) handleMatchReplay(c *gin.Context) {
	replay, err := s.matches.ReplayFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, replay)
}

func (s *Server) handleMatchChat(c *gin.Context) {
	chat, err := s.matches.ChatHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": chat})
}

func (s *Server) handleListChallenges(c *gin.Context) {
	difficulty := models.Difficulty(c.Query("difficulty"))
	if difficulty != "" && !models.ValidDifficultyFilter(difficulty) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid difficulty filter"})
		return
	}

	challenges, err := s.challenges.List(c.Request.Context(), difficulty)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenges": challenges})
}
