package handler

import (
	"net/http"

	"pettycash/internal/service"
	"pettycash/pkg/response"

	"github.com/gin-gonic/gin"
)

type AttachmentHandler struct {
	attachments service.AttachmentService
}

func NewAttachmentHandler(attachments service.AttachmentService) *AttachmentHandler {
	return &AttachmentHandler{attachments: attachments}
}

func (h *AttachmentHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/attachments")
	{
		group.POST("", h.RegisterAttachment)
		group.GET("/pending", h.ListPending)
		group.DELETE("/:id", h.DeleteAttachment)
	}
}

// RegisterAttachment records an uploaded object in the caller's pending pool
// @Summary      Register attachment
// @Description  The object must already be stored under storage_key; it stays pending until a claim binds it
// @Tags         attachments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.RegisterAttachmentRequest  true  "Upload metadata"
// @Success      201      {object}  response.Response{data=service.AttachmentResponse}
// @Failure      422      {object}  response.Response
// @Router       /api/attachments [post]
func (h *AttachmentHandler) RegisterAttachment(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req service.RegisterAttachmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	attachment, err := h.attachments.Register(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, attachment))
}

// ListPending returns the caller's attachments not yet bound to a claim
// @Summary      Pending attachments
// @Tags         attachments
// @Security     BearerAuth
// @Produce      json
// @Param        slot  query     string  false  "Temporary slot; empty lists the whole pool"
// @Success      200   {object}  response.Response{data=[]service.AttachmentResponse}
// @Router       /api/attachments/pending [get]
func (h *AttachmentHandler) ListPending(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	list, err := h.attachments.ListPending(c.Request.Context(), actor, c.Query("slot"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, list))
}

// DeleteAttachment removes an attachment owned by the caller
// @Summary      Delete attachment
// @Tags         attachments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Attachment ID"
// @Success      200  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/attachments/{id} [delete]
func (h *AttachmentHandler) DeleteAttachment(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.attachments.Delete(c.Request.Context(), actor, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"id": id.String()}))
}
