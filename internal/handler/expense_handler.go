package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"pettycash/internal/model"
	"pettycash/internal/service"
	"pettycash/pkg/pagination"
	"pettycash/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AssignRequest struct {
	VerifierID string `json:"verifier_id" binding:"required"`
}

type CommentRequest struct {
	Comment string `json:"comment"`
}

type ExpenseHandler struct {
	lifecycle   service.LifecycleService
	audit       service.AuditService
	attachments service.AttachmentService
}

func NewExpenseHandler(lifecycle service.LifecycleService, audit service.AuditService, attachments service.AttachmentService) *ExpenseHandler {
	return &ExpenseHandler{lifecycle: lifecycle, audit: audit, attachments: attachments}
}

func (h *ExpenseHandler) RegisterRoutes(router *gin.RouterGroup) {
	expenses := router.Group("/api/expenses")
	{
		expenses.POST("", h.CreateExpense)
		expenses.GET("", h.ListExpenses)
		expenses.GET("/:id", h.GetExpense)
		expenses.PUT("/:id/assign", h.AssignExpense)
		expenses.PUT("/:id/verify", h.VerifyExpense)
		expenses.PUT("/:id/approve", h.ApproveExpense)
		expenses.PUT("/:id/reject", h.RejectExpense)
		expenses.PUT("/:id/resubmit", h.ResubmitExpense)
		expenses.GET("/:id/timeline", h.GetTimeline)
		expenses.GET("/:id/attachments", h.ListAttachments)
	}
}

// CreateExpense submits a new claim
// @Summary      Create and submit an expense
// @Description  Validates the claim against the organization policy, binds pending attachments from the temporary slot and submits it
// @Tags         expenses
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.ClaimInput  true  "Claim"
// @Success      201      {object}  response.Response{data=service.ExpenseResponse}
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/expenses [post]
func (h *ExpenseHandler) CreateExpense(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req service.ClaimInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	expense, err := h.lifecycle.CreateAndSubmit(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, expense))
}

// ListExpenses returns the expenses visible to the caller
// @Summary      List expenses
// @Tags         expenses
// @Security     BearerAuth
// @Produce      json
// @Param        status  query     string  false  "SUBMITTED, VERIFIED, APPROVED or REJECTED"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Number of items per page (default 20)"
// @Success      200     {object}  response.Response{data=object}
// @Router       /api/expenses [get]
func (h *ExpenseHandler) ListExpenses(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	status := strings.ToUpper(strings.TrimSpace(c.Query("status")))
	if status != "" && !model.ValidStatus(status) {
		badRequest(c, "Invalid status filter")
		return
	}
	params := pagination.Parse(c)

	expenses, total, err := h.lifecycle.List(c.Request.Context(), actor, service.ExpenseListFilter{
		Status: status,
		Page:   params.Page,
		Limit:  params.Limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, pagination.NewPage(expenses, total, params)))
}

// GetExpense returns one expense
// @Summary      Get expense
// @Tags         expenses
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Expense ID"
// @Success      200  {object}  response.Response{data=service.ExpenseResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/expenses/{id} [get]
func (h *ExpenseHandler) GetExpense(c *gin.Context) {
	h.withExpense(c, func(actor model.Actor, id uuid.UUID) (interface{}, error) {
		return h.lifecycle.Get(c.Request.Context(), actor, id)
	})
}

// AssignExpense hands a submitted expense to an engineer
// @Summary      Assign verifier
// @Tags         expenses
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string         true  "Expense ID"
// @Param        request  body      AssignRequest  true  "Verifier"
// @Success      200      {object}  response.Response{data=service.ExpenseResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/expenses/{id}/assign [put]
func (h *ExpenseHandler) AssignExpense(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	verifierID, err := uuid.Parse(req.VerifierID)
	if err != nil {
		badRequest(c, "Invalid verifier_id: must be a UUID")
		return
	}
	h.withExpense(c, func(actor model.Actor, id uuid.UUID) (interface{}, error) {
		return h.lifecycle.Assign(c.Request.Context(), actor, id, verifierID)
	})
}

// VerifyExpense marks a submitted expense as verified
// @Summary      Verify expense
// @Tags         expenses
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string          true   "Expense ID"
// @Param        request  body      CommentRequest  false  "Optional comment"
// @Success      200      {object}  response.Response{data=service.ExpenseResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/expenses/{id}/verify [put]
func (h *ExpenseHandler) VerifyExpense(c *gin.Context) {
	comment, ok := bindComment(c)
	if !ok {
		return
	}
	h.withExpense(c, func(actor model.Actor, id uuid.UUID) (interface{}, error) {
		return h.lifecycle.Verify(c.Request.Context(), actor, id, comment)
	})
}

// ApproveExpense approves and debits the submitter's balance
// @Summary      Approve expense
// @Description  Debits the submitter's petty-cash balance; balance_warning is set when the result is negative
// @Tags         expenses
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string          true   "Expense ID"
// @Param        request  body      CommentRequest  false  "Optional comment"
// @Success      200      {object}  response.Response{data=service.ExpenseResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/expenses/{id}/approve [put]
func (h *ExpenseHandler) ApproveExpense(c *gin.Context) {
	comment, ok := bindComment(c)
	if !ok {
		return
	}
	h.withExpense(c, func(actor model.Actor, id uuid.UUID) (interface{}, error) {
		return h.lifecycle.Approve(c.Request.Context(), actor, id, comment)
	})
}

// RejectExpense rejects a pending expense
// @Summary      Reject expense
// @Tags         expenses
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string          true  "Expense ID"
// @Param        request  body      CommentRequest  true  "Reason"
// @Success      200      {object}  response.Response{data=service.ExpenseResponse}
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/expenses/{id}/reject [put]
func (h *ExpenseHandler) RejectExpense(c *gin.Context) {
	comment, ok := bindComment(c)
	if !ok {
		return
	}
	h.withExpense(c, func(actor model.Actor, id uuid.UUID) (interface{}, error) {
		return h.lifecycle.Reject(c.Request.Context(), actor, id, comment)
	})
}

// ResubmitExpense replaces the claim of a rejected expense
// @Summary      Resubmit expense
// @Tags         expenses
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string              true  "Expense ID"
// @Param        request  body      service.ClaimInput  true  "Corrected claim"
// @Success      200      {object}  response.Response{data=service.ExpenseResponse}
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/expenses/{id}/resubmit [put]
func (h *ExpenseHandler) ResubmitExpense(c *gin.Context) {
	var req service.ClaimInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	h.withExpense(c, func(actor model.Actor, id uuid.UUID) (interface{}, error) {
		return h.lifecycle.Resubmit(c.Request.Context(), actor, id, req)
	})
}

// GetTimeline returns the audit history of an expense, newest first
// @Summary      Expense timeline
// @Tags         expenses
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Expense ID"
// @Success      200  {object}  response.Response{data=[]service.TimelineEntry}
// @Failure      404  {object}  response.Response
// @Router       /api/expenses/{id}/timeline [get]
func (h *ExpenseHandler) GetTimeline(c *gin.Context) {
	h.withExpense(c, func(actor model.Actor, id uuid.UUID) (interface{}, error) {
		return h.audit.Timeline(c.Request.Context(), actor, id)
	})
}

// ListAttachments returns the attachments bound to an expense
// @Summary      Expense attachments
// @Tags         expenses
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Expense ID"
// @Success      200  {object}  response.Response{data=[]service.AttachmentResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/expenses/{id}/attachments [get]
func (h *ExpenseHandler) ListAttachments(c *gin.Context) {
	h.withExpense(c, func(actor model.Actor, id uuid.UUID) (interface{}, error) {
		return h.attachments.ListForExpense(c.Request.Context(), actor, id)
	})
}

// withExpense resolves the caller and the :id param, runs fn and writes a 200 with its result.
func (h *ExpenseHandler) withExpense(c *gin.Context, fn func(actor model.Actor, id uuid.UUID) (interface{}, error)) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	data, err := fn(actor, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, data))
}

// bindComment accepts an empty body.
func bindComment(c *gin.Context) (string, bool) {
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "Invalid request payload: "+err.Error())
		return "", false
	}
	return req.Comment, true
}
