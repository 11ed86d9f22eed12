package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeclash-io/codeclash/pkg/services"
)

// handleRequestAnalysis generates (or regenerates) the caller's analysis for
// a finished match.
func (s *Server) handleRequestAnalysis(c *gin.Context) {
	matchID := c.Param("matchId")
	userID := currentUser(c)

	row, err := s.matches.Row(c.Request.Context(), matchID)
	if err != nil {
		respondError(c, err)
		return
	}
	if row.Player1ID != userID && row.Player2ID != userID {
		respondError(c, services.ErrForbidden)
		return
	}
	if !row.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "match is still in progress"})
		return
	}

	challenge, err := s.challenges.ChallengeByID(c.Request.Context(), row.ChallengeID)
	if err != nil {
		respondError(c, err)
		return
	}

	code, language := "", ""
	if state, err := s.machine.Get(c.Request.Context(), matchID); err == nil {
		if player := state.PlayerByID(userID); player != nil {
			code = player.Code
			language = player.Language
		}
	}

	analysis, err := s.coach.AnalyzeMatch(c.Request.Context(), matchID, userID, code, language, challenge.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, analysis)
}

func (s *Server) handleAnalysis(c *gin.Context) {
	analysis, err := s.coach.AnalysisFor(c.Request.Context(), c.Param("matchId"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (s *Server) handleAnalysisHistory(c *gin.Context) {
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", 20)

	analyses, total, err := s.coach.History(c.Request.Context(), currentUser(c), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"analyses":  analyses,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (s *Server) handleAnalysisTimeline(c *gin.Context) {
	timeline, err := s.coach.Timeline(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"timeline": timeline})
}

func (s *Server) handleAnalysisSummary(c *gin.Context) {
	summary, err := s.coach.Summary(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": summary})
}

func (s *Server) handleAnalysisTrends(c *gin.Context) {
	trends, err := s.coach.Trends(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trends": trends})
}

func (s *Server) handleWeaknessProfile(c *gin.Context) {
	profile, err := s.coach.WeaknessProfile(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// handleRequestHint issues the next hint level mid-match. Only participants
// of the match may ask.
func (s *Server) handleRequestHint(c *gin.Context) {
	matchID := c.Param("matchId")
	userID := currentUser(c)

	row, err := s.matches.Row(c.Request.Context(), matchID)
	if err != nil {
		respondError(c, err)
		return
	}
	if row.Player1ID != userID && row.Player2ID != userID {
		respondError(c, services.ErrForbidden)
		return
	}

	challenge, err := s.challenges.ChallengeByID(c.Request.Context(), row.ChallengeID)
	if err != nil {
		respondError(c, err)
		return
	}

	// Current code gives the provider context; a missing ephemeral state is
	// fine, the hint just gets less specific.
	code := ""
	if state, err := s.machine.Get(c.Request.Context(), matchID); err == nil {
		if player := state.PlayerByID(userID); player != nil {
			code = player.Code
		}
	}

	hint, err := s.coach.RequestHint(c.Request.Context(), matchID, userID, challenge.Title, code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, hint)
}

func (s *Server) handleListHints(c *gin.Context) {
	hints, err := s.coach.Hints(c.Request.Context(), c.Param("matchId"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hints": hints})
}

func (s *Server) handleHintStatus(c *gin.Context) {
	status, err := s.coach.Status(c.Request.Context(), c.Param("matchId"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
