package http_api

// routes sets up the routes for the HTTP server.
func (s *HTTPServer) routes() {
	s.router.GET("/api/donation/create", s.createDonation)
	s.router.POST("/api/donation/test", s.createTestDonation)
	s.router.DELETE("/api/donation/test", s.purgeTestDonations)

	s.router.POST("/api/webhook", s.handleLegacyWebhook)
	s.router.POST("/api/webhook/:webhookId", s.handleWebhook)

	s.router.GET("/api/stream", s.streamEvents)
	s.router.GET("/api/widget/status", s.widgetStatus)

	s.router.GET("/api/queue", s.listQueue)
	s.router.GET("/api/queue/stats", s.queueStats)
	s.router.POST("/api/queue/status", s.updateQueueStatus)
	s.router.PATCH("/api/queue/next", s.advanceQueue)
	s.router.DELETE("/api/queue/clear", s.clearQueue)
}
