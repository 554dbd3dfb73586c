package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentpay/firewall/internal/gate"
	"github.com/agentpay/firewall/internal/intent"
	"github.com/agentpay/firewall/internal/validation"
)

// paymentRequest is the JSON body accepted by /v1/pay and /v1/check.
type paymentRequest struct {
	Recipient      string  `json:"recipient"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Purpose        string  `json:"purpose"`
	Protocol       string  `json:"protocol"`
	EscrowDeadline string  `json:"escrowDeadline"`
}

func (r paymentRequest) toGateRequest() gate.Request {
	req := gate.Request{
		Recipient: r.Recipient,
		Amount:    r.Amount,
		Currency:  r.Currency,
		Purpose:   r.Purpose,
	}
	if r.Currency == "" {
		req.Currency = "USDC"
	}
	if r.Protocol != "" {
		req.Protocol = intent.Protocol(r.Protocol)
	}
	if r.EscrowDeadline != "" {
		req.Escrow = &intent.EscrowConfig{Deadline: r.EscrowDeadline}
	}
	return req
}

func (r paymentRequest) validate() validation.ValidationErrors {
	return validation.Validate(
		validation.Required("recipient", r.Recipient),
		validation.ValidAmount("amount", r.Amount),
	)
}

func (s *Server) payHandler(c *gin.Context) {
	var body paymentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if errs := body.validate(); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	result, err := s.gate.Pay(c.Request.Context(), body.toGateRequest())
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "blocked", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) checkHandler(c *gin.Context) {
	var body paymentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if errs := body.validate(); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	v := s.gate.Check(c.Request.Context(), body.toGateRequest())
	c.JSON(http.StatusOK, v)
}

func (s *Server) auditRecentHandler(c *gin.Context) {
	if s.auditStore == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit_disabled", "message": "no audit store configured"})
		return
	}
	entries, err := s.auditStore.ListRecent(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit_query_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) auditByIntentHandler(c *gin.Context) {
	if s.auditStore == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit_disabled", "message": "no audit store configured"})
		return
	}
	id := c.Param("id")
	entries, err := s.auditStore.ListByIntent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit_query_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
