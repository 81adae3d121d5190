package controllers

import (
	"net/http"

	"github.com/expertclone/backend-go/internal/services"
)

// RootController 根路径
type RootController struct {
	BaseController
}

func (c *RootController) Index() {
	c.JSONSuccess(map[string]string{
		"service": "expertclone-rag",
		"status":  "running",
	})
}

// HealthController 存活探针与组件健康
type HealthController struct {
	BaseController
	processing *services.RAGProcessingService
}

func (c *HealthController) Prepare() {
	c.processing = ragProcessingService
}

// GET /health 仅回答进程存活，供负载均衡和Consul探活
func (c *HealthController) Health() {
	c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "expertclone-rag",
	})
}

// GET /api/rag/health 组件级健康，降级状态也在这里暴露
func (c *HealthController) RAGHealth() {
	if c.processing == nil {
		c.JSONError(http.StatusServiceUnavailable, "服务尚未初始化")
		return
	}

	// 降级仍可服务，保持200，状态在data里标出
	report := c.processing.Health(c.Ctx.Request.Context())
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    report,
	})
}
