package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleStats(c *gin.Context) {
	successResponse(c, s.bot.Stats())
}

func (s *Server) handlePositions(c *gin.Context) {
	successResponse(c, s.bot.OpenPositions())
}

func (s *Server) handleKelly(c *gin.Context) {
	successResponse(c, s.bot.KellyByScale())
}

func (s *Server) handleWeekly(c *gin.Context) {
	bias := s.bot.WeeklyBias()
	if bias == nil {
		errorResponse(c, http.StatusNotFound, "weekly bias not yet classified")
		return
	}
	successResponse(c, bias)
}

func (s *Server) handlePrice(c *gin.Context) {
	price := s.bot.LastPrice()
	if price <= 0 {
		errorResponse(c, http.StatusNotFound, "no price seen yet")
		return
	}
	successResponse(c, gin.H{"price": price})
}

// handleAnalysis buckets the closed-trade history across all learning
// dimensions, or a single one when ?dimension= is given.
func (s *Server) handleAnalysis(c *gin.Context) {
	analysis := s.analyzer.Analyze(s.bot.TradeRecords())

	if dimension := c.Query("dimension"); dimension != "" {
		buckets, ok := analysis[dimension]
		if !ok {
			errorResponse(c, http.StatusBadRequest, "unknown dimension: "+dimension)
			return
		}
		successResponse(c, buckets)
		return
	}
	successResponse(c, analysis)
}

func (s *Server) handleEdges(c *gin.Context) {
	analysis := s.analyzer.Analyze(s.bot.TradeRecords())
	successResponse(c, gin.H{
		"negative":  s.analyzer.NegativeEdgeBuckets(analysis),
		"strongest": s.analyzer.StrongestBuckets(analysis),
	})
}

func (s *Server) handleAdjustments(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			errorResponse(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	successResponse(c, s.bot.RecentAdjustments(limit))
}
