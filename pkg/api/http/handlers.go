package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clearstake/clearstake/internal/domain"
	"github.com/clearstake/clearstake/internal/fairness"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionSummary is the list view of a session
type SessionSummary struct {
	ID      string       `json:"id"`
	Player  string       `json:"player"`
	Game    string       `json:"game"`
	Phase   domain.Phase `json:"phase"`
	Balance int64        `json:"balance"`
	Rounds  uint64       `json:"rounds"`
}

// PoolDepositRequest funds the liquidity pool
type PoolDepositRequest struct {
	Depositor string `json:"depositor" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
}

// PoolRedeemRequest burns pool shares
type PoolRedeemRequest struct {
	Depositor string `json:"depositor" binding:"required"`
	Shares    int64  `json:"shares" binding:"required"`
}

// PoolLimitsRequest adjusts pool caps and roles. Owner only.
type PoolLimitsRequest struct {
	Actor                string `json:"actor" binding:"required"`
	MaxAllocationPercent *int64 `json:"max_allocation_percent,omitempty"`
	MaxPerChannel        *int64 `json:"max_per_channel,omitempty"`
	Operator             string `json:"operator,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// handleListSessions returns a summary of all stored sessions
func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.store.List(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("LIST_FAILED", err.Error()))
		return
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, SessionSummary{
			ID:      session.ID,
			Player:  session.Player,
			Game:    session.Game,
			Phase:   session.Phase,
			Balance: session.Balance,
			Rounds:  session.RoundCount,
		})
	}

	c.JSON(http.StatusOK, gin.H{"sessions": summaries})
}

// handleGetSession returns the full session record
func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.manager.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, errorResponse("NOT_FOUND", err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("GET_FAILED", err.Error()))
		return
	}

	c.JSON(http.StatusOK, session)
}

// handleVerifySession recomputes the fairness report for a closed session
func (s *Server) handleVerifySession(c *gin.Context) {
	session, err := s.manager.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, errorResponse("NOT_FOUND", err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("GET_FAILED", err.Error()))
		return
	}

	if session.Seed == "" {
		c.JSON(http.StatusConflict, errorResponse("SEED_NOT_REVEALED",
			"session seed is revealed only after the session closes"))
		return
	}

	report, err := fairness.VerifySession(session)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("VERIFY_FAILED", err.Error()))
		return
	}

	c.JSON(http.StatusOK, report)
}

// handleResetSession clears a session stuck in the error phase
func (s *Server) handleResetSession(c *gin.Context) {
	session, err := s.manager.Reset(c.Request.Context(), c.Param("id"))
	if err != nil {
		var phaseErr *domain.PhaseMismatchError
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, errorResponse("NOT_FOUND", err.Error()))
		case errors.As(err, &phaseErr):
			c.JSON(http.StatusConflict, errorResponse("WRONG_PHASE", err.Error()))
		default:
			c.JSON(http.StatusInternalServerError, errorResponse("RESET_FAILED", err.Error()))
		}
		return
	}

	c.JSON(http.StatusOK, session)
}

// handlePoolStatus returns the liquidity pool snapshot
func (s *Server) handlePoolStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.pool.Snapshot())
}

// handlePoolDeposit mints pool shares for a deposit
func (s *Server) handlePoolDeposit(c *gin.Context) {
	var req PoolDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("INVALID_REQUEST", err.Error()))
		return
	}

	shares, err := s.pool.Deposit(req.Depositor, req.Amount)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorResponse("DEPOSIT_FAILED", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"shares": shares})
}

// handlePoolRedeem burns shares against unallocated assets
func (s *Server) handlePoolRedeem(c *gin.Context) {
	var req PoolRedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("INVALID_REQUEST", err.Error()))
		return
	}

	amount, err := s.pool.Redeem(req.Depositor, req.Shares)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientLiquidity) {
			c.JSON(http.StatusConflict, errorResponse("INSUFFICIENT_LIQUIDITY", err.Error()))
			return
		}
		c.JSON(http.StatusUnprocessableEntity, errorResponse("REDEEM_FAILED", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

// handlePoolLimits adjusts the pool caps or rotates the operator
func (s *Server) handlePoolLimits(c *gin.Context) {
	var req PoolLimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("INVALID_REQUEST", err.Error()))
		return
	}

	if req.MaxAllocationPercent != nil {
		if err := s.pool.SetMaxAllocationPercent(req.Actor, *req.MaxAllocationPercent); err != nil {
			c.JSON(http.StatusForbidden, errorResponse("LIMIT_REJECTED", err.Error()))
			return
		}
	}
	if req.MaxPerChannel != nil {
		if err := s.pool.SetMaxPerChannel(req.Actor, *req.MaxPerChannel); err != nil {
			c.JSON(http.StatusForbidden, errorResponse("LIMIT_REJECTED", err.Error()))
			return
		}
	}
	if req.Operator != "" {
		if err := s.pool.SetOperator(req.Actor, req.Operator); err != nil {
			c.JSON(http.StatusForbidden, errorResponse("LIMIT_REJECTED", err.Error()))
			return
		}
	}

	c.JSON(http.StatusOK, s.pool.Snapshot())
}

func errorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
}
