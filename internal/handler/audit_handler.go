package handler

import (
	"net/http"
	"strings"

	"pettycash/internal/middleware"
	"pettycash/internal/model"
	"pettycash/internal/service"
	"pettycash/pkg/pagination"
	"pettycash/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/audit-logs")
	group.Use(middleware.RequireRole(model.RoleAdmin, model.RoleCashier))
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs returns the organization's lifecycle activity, newest first
// @Summary      Get audit logs
// @Description  Organization-wide feed of lifecycle transitions with display tone
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        action query     string  false  "Filter by action, e.g. approved"
// @Param        page   query     int     false  "Page number (default 1)"
// @Param        limit  query     int     false  "Number of items per page (default 20)"
// @Success      200    {object}  response.Response{data=pagination.Page}
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	params := pagination.Parse(c)

	logs, total, err := h.auditService.ListLogs(c.Request.Context(), actor, service.AuditLogFilter{
		Action: strings.ToLower(strings.TrimSpace(c.Query("action"))),
		Page:   params.Page,
		Limit:  params.Limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, pagination.NewPage(logs, total, params)))
}
