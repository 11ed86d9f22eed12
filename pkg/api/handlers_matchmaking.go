package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeclash-io/codeclash/pkg/events"
	"github.com/codeclash-io/codeclash/pkg/matchmaking"
	"github.com/codeclash-io/codeclash/pkg/models"
)

type queueJoinRequest struct {
	Difficulty string `json:"difficulty" binding:"required"`
	Language   string `json:"language" binding:"required"`
}

func (s *Server) handleQueueJoin(c *gin.Context) {
	var req queueJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.users.User(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}

	entry, err := s.queue.Enqueue(c.Request.Context(), user.ID, user.Rating, req.Difficulty, req.Language)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) handleQueueLeave(c *gin.Context) {
	if err := s.queue.Leave(c.Request.Context(), currentUser(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": true})
}

// handleQueueStatus reports the caller's position and estimated wait. The
// user is in at most one partition, so the first hit is the answer.
func (s *Server) handleQueueStatus(c *gin.Context) {
	userID := currentUser(c)
	for _, part := range matchmaking.AllPartitions() {
		position, wait, err := s.queue.Position(c.Request.Context(), userID, part)
		if err != nil {
			continue
		}
		c.JSON(http.StatusOK, gin.H{
			"queued":             true,
			"difficulty":         part.Difficulty,
			"language":           part.Language,
			"position":           position,
			"estimated_wait_sec": wait,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queued": false})
}

type customMatchRequest struct {
	OpponentID string `json:"opponent_id" binding:"required"`
	Difficulty string `json:"difficulty" binding:"required"`
	Language   string `json:"language" binding:"required"`
}

// handleCustomMatch creates a direct match against a chosen opponent,
// bypassing the queue. The opponent is notified over the fan-out layer.
func (s *Server) handleCustomMatch(c *gin.Context) {
	var req customMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := currentUser(c)
	if req.OpponentID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot challenge yourself"})
		return
	}
	if !models.ValidLanguage(req.Language) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported language"})
		return
	}
	if _, err := s.users.User(c.Request.Context(), req.OpponentID); err != nil {
		respondError(c, err)
		return
	}

	challenge, err := s.challenges.RandomChallenge(c.Request.Context(), models.Difficulty(req.Difficulty))
	if err != nil {
		respondError(c, err)
		return
	}

	matchID, err := s.matches.CreateMatch(c.Request.Context(), userID, req.OpponentID, challenge, req.Language)
	if err != nil {
		respondError(c, err)
		return
	}

	// Clients never see hidden tests or the optimal solution.
	public := challenge.PublicTestCases()
	sanitized := *challenge
	sanitized.TestCases = public
	sanitized.OptimalSolution = ""

	s.manager.SendToUser(c.Request.Context(), req.OpponentID, events.ServerEvent{
		Type: events.EventMatchFound,
		Data: matchmaking.MatchFound{
			MatchID: matchID, OpponentID: userID, Challenge: &sanitized,
			Language: req.Language, TestCases: public,
		},
	})

	c.JSON(http.StatusCreated, gin.H{
		"match_id":   matchID,
		"challenge":  &sanitized,
		"language":   req.Language,
		"test_cases": public,
	})
}
