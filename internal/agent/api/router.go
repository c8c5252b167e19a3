package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/mcphost/internal/agent/history"
	"github.com/kandev/mcphost/internal/common/httpmw"
	"github.com/kandev/mcphost/internal/common/logger"
)

// SetupRoutes configures the agent API routes
func SetupRoutes(router *gin.RouterGroup, controller Controller, observable Observable, store history.Store, log *logger.Logger) {
	handler := NewHandler(controller, observable, store, log)
	router.Use(httpmw.LocalOrigin())

	router.GET("/status", handler.GetStatus)
	router.POST("/start", handler.StartAgent)
	router.POST("/stop", handler.StopAgent)
	router.POST("/restart", handler.RestartAgent)
	router.POST("/toggle", handler.ToggleAgent)
	router.POST("/ask", handler.AskAgent)

	router.GET("/output", handler.GetOutput)
	router.GET("/history", handler.GetHistory)
	router.GET("/events", handler.StreamEvents)
}
