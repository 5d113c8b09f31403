package handler

import (
	"net/http"

	"pettycash/internal/middleware"
	"pettycash/internal/model"
	"pettycash/internal/service"
	"pettycash/pkg/response"

	"github.com/gin-gonic/gin"
)

type BalanceHandler struct {
	balances service.BalanceService
}

func NewBalanceHandler(balances service.BalanceService) *BalanceHandler {
	return &BalanceHandler{balances: balances}
}

func (h *BalanceHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/balances")
	{
		group.GET("/me", h.GetMyBalance)
		group.GET("/:userId", middleware.RequireRole(model.RoleAdmin, model.RoleCashier), h.GetBalance)
	}
}

// GetMyBalance returns the caller's petty-cash balance
// @Summary      My balance
// @Tags         balances
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.BalanceResponse}
// @Router       /api/balances/me [get]
func (h *BalanceHandler) GetMyBalance(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	balance, err := h.balances.GetBalance(c.Request.Context(), actor, actor.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, balance))
}

// GetBalance returns a member's balance
// @Summary      Member balance
// @Tags         balances
// @Security     BearerAuth
// @Produce      json
// @Param        userId  path      string  true  "User ID"
// @Success      200     {object}  response.Response{data=service.BalanceResponse}
// @Failure      403     {object}  response.Response
// @Router       /api/balances/{userId} [get]
func (h *BalanceHandler) GetBalance(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	userID, ok := uuidParam(c, "userId")
	if !ok {
		return
	}
	balance, err := h.balances.GetBalance(c.Request.Context(), actor, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, balance))
}
