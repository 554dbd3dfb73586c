package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentpay/firewall/internal/intent"
)

// policyConfigDTO mirrors intent.PolicyConfig for JSON CRUD. Pointer
// fields stay pointers so omission means "leave the bound disabled",
// not "set it to zero".
type policyConfigDTO struct {
	MaxPerTransaction         *float64 `json:"maxPerTransaction"`
	MaxDaily                  *float64 `json:"maxDaily"`
	MaxMonthly                *float64 `json:"maxMonthly"`
	RequireEscrowAbove        *float64 `json:"requireEscrowAbove"`
	RequireHumanApprovalAbove *float64 `json:"requireHumanApprovalAbove"`
	CooldownMs                *int64   `json:"cooldownMs"`
	AllowedRecipients         []string `json:"allowedRecipients"`
	BlockedRecipients         []string `json:"blockedRecipients"`
	AllowedCategories         []string `json:"allowedCategories"`
}

func dtoFromConfig(cfg intent.PolicyConfig) policyConfigDTO {
	return policyConfigDTO{
		MaxPerTransaction:         cfg.MaxPerTransaction,
		MaxDaily:                  cfg.MaxDaily,
		MaxMonthly:                cfg.MaxMonthly,
		RequireEscrowAbove:        cfg.RequireEscrowAbove,
		RequireHumanApprovalAbove: cfg.RequireHumanApprovalAbove,
		CooldownMs:                cfg.CooldownMs,
		AllowedRecipients:         cfg.AllowedRecipients,
		BlockedRecipients:         cfg.BlockedRecipients,
		AllowedCategories:         cfg.AllowedCategories,
	}
}

func (d policyConfigDTO) toConfig() intent.PolicyConfig {
	return intent.PolicyConfig{
		MaxPerTransaction:         d.MaxPerTransaction,
		MaxDaily:                  d.MaxDaily,
		MaxMonthly:                d.MaxMonthly,
		RequireEscrowAbove:        d.RequireEscrowAbove,
		RequireHumanApprovalAbove: d.RequireHumanApprovalAbove,
		CooldownMs:                d.CooldownMs,
		AllowedRecipients:         d.AllowedRecipients,
		BlockedRecipients:         d.BlockedRecipients,
		AllowedCategories:         d.AllowedCategories,
	}
}

func (s *Server) getPolicyHandler(c *gin.Context) {
	c.JSON(http.StatusOK, dtoFromConfig(s.gate.Policy().Config()))
}

func (s *Server) putPolicyHandler(c *gin.Context) {
	var dto policyConfigDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	s.gate.Policy().SetConfig(dto.toConfig())
	c.JSON(http.StatusOK, dto)
}

func (s *Server) resetPolicySpendHandler(c *gin.Context) {
	s.gate.Policy().Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
