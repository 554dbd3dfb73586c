package server

import "github.com/agentpay/firewall/internal/metrics"

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	v1.Use(s.adminAuthMiddleware())
	{
		v1.POST("/pay", s.payHandler)
		v1.POST("/check", s.checkHandler)

		v1.GET("/policy", s.getPolicyHandler)
		v1.PUT("/policy", s.putPolicyHandler)
		v1.POST("/policy/reset", s.resetPolicySpendHandler)

		if s.auditStore != nil {
			v1.GET("/audit", s.auditRecentHandler)
			v1.GET("/audit/:id", s.auditByIntentHandler)
		}

		if s.approvalHub != nil {
			s.approvalHub.RegisterRoutes(v1)
		}
	}
}
