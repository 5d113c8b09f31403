package service

import (
	"context"
	"strings"
	"time"

	"pettycash/internal/model"
	"pettycash/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// --- DTOs ---

type RegisterAttachmentRequest struct {
	TemporarySlot string `json:"temporary_slot"`
	FileName      string `json:"file_name" binding:"required"`
	StorageKey    string `json:"storage_key" binding:"required"` // Object key in the upload bucket
	ContentType   string `json:"content_type" binding:"required"`
	SizeBytes     int64  `json:"size_bytes" binding:"required"`
}

type AttachmentResponse struct {
	ID            string  `json:"id"`
	ExpenseID     *string `json:"expense_id"`
	UploaderID    string  `json:"uploader_id"`
	TemporarySlot string  `json:"temporary_slot"`
	FileName      string  `json:"file_name"`
	StorageKey    string  `json:"storage_key"`
	ContentType   string  `json:"content_type"`
	SizeBytes     int64   `json:"size_bytes"`
	Committed     bool    `json:"committed"`
	CreatedAt     string  `json:"created_at"`
}

// --- Interface ---

type AttachmentService interface {
	// Register records an uploaded object in the caller's uncommitted pool.
	Register(ctx context.Context, actor model.Actor, req RegisterAttachmentRequest) (*AttachmentResponse, error)
	ListPending(ctx context.Context, actor model.Actor, slot string) ([]AttachmentResponse, error)
	ListForExpense(ctx context.Context, actor model.Actor, expenseID uuid.UUID) ([]AttachmentResponse, error)
	// Exists reports whether any attachment is bound to the expense.
	Exists(ctx context.Context, actor model.Actor, expenseID uuid.UUID) (bool, error)
	// Delete removes an attachment. Only its uploader or an admin may do so.
	Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error
}

type attachmentService struct {
	attachmentRepo repository.AttachmentRepository
	expenseRepo    repository.ExpenseRepository
	logger         *zap.Logger
}

func NewAttachmentService(attachmentRepo repository.AttachmentRepository, expenseRepo repository.ExpenseRepository, logger *zap.Logger) AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &attachmentService{attachmentRepo: attachmentRepo, expenseRepo: expenseRepo, logger: logger}
}

// --- Implementation ---

func (s *attachmentService) Register(ctx context.Context, actor model.Actor, req RegisterAttachmentRequest) (*AttachmentResponse, error) {
	if strings.TrimSpace(req.FileName) == "" {
		return nil, fieldError("file_name", "is required")
	}
	if strings.TrimSpace(req.StorageKey) == "" {
		return nil, fieldError("storage_key", "is required")
	}
	if req.SizeBytes <= 0 {
		return nil, fieldError("size_bytes", "must be positive")
	}

	attachment := model.Attachment{
		OrganizationID: actor.OrganizationID,
		UploaderID:     actor.UserID,
		TemporarySlot:  strings.TrimSpace(req.TemporarySlot),
		FileName:       strings.TrimSpace(req.FileName),
		StorageKey:     strings.TrimSpace(req.StorageKey),
		ContentType:    req.ContentType,
		SizeBytes:      req.SizeBytes,
	}
	if err := s.attachmentRepo.Create(ctx, &attachment); err != nil {
		s.logger.Error("failed to register attachment", zap.String("uploader_id", actor.UserID.String()), zap.Error(err))
		return nil, storageError(err, ErrNotFound)
	}
	return toAttachmentResponse(attachment), nil
}

// ListPending lists the caller's uncommitted uploads in slot, or across all
// slots when slot is empty.
func (s *attachmentService) ListPending(ctx context.Context, actor model.Actor, slot string) ([]AttachmentResponse, error) {
	var list []model.Attachment
	var err error
	if slot = strings.TrimSpace(slot); slot == "" {
		list, err = s.attachmentRepo.ListPool(ctx, actor.OrganizationID, actor.UserID)
	} else {
		list, err = s.attachmentRepo.ListUncommitted(ctx, actor.OrganizationID, actor.UserID, slot)
	}
	if err != nil {
		return nil, storageError(err, ErrNotFound)
	}
	return toAttachmentResponses(list), nil
}

func (s *attachmentService) ListForExpense(ctx context.Context, actor model.Actor, expenseID uuid.UUID) ([]AttachmentResponse, error) {
	if err := s.checkVisible(ctx, actor, expenseID); err != nil {
		return nil, err
	}
	list, err := s.attachmentRepo.ListByExpense(ctx, actor.OrganizationID, expenseID)
	if err != nil {
		return nil, storageError(err, ErrNotFound)
	}
	return toAttachmentResponses(list), nil
}

func (s *attachmentService) Exists(ctx context.Context, actor model.Actor, expenseID uuid.UUID) (bool, error) {
	if err := s.checkVisible(ctx, actor, expenseID); err != nil {
		return false, err
	}
	n, err := s.attachmentRepo.CountByExpense(ctx, actor.OrganizationID, expenseID)
	if err != nil {
		return false, storageError(err, ErrNotFound)
	}
	return n > 0, nil
}

func (s *attachmentService) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	attachment, err := s.attachmentRepo.FindByID(ctx, actor.OrganizationID, id)
	if err != nil {
		return storageError(err, ErrNotFound)
	}
	if attachment.UploaderID != actor.UserID && !actor.IsAdmin() {
		return ErrForbidden
	}
	if err := s.attachmentRepo.Delete(ctx, actor.OrganizationID, id); err != nil {
		return storageError(err, ErrNotFound)
	}
	s.logger.Info("attachment deleted",
		zap.String("attachment_id", id.String()),
		zap.String("actor_id", actor.UserID.String()),
		zap.Bool("was_committed", attachment.IsCommitted()),
	)
	return nil
}

func (s *attachmentService) checkVisible(ctx context.Context, actor model.Actor, expenseID uuid.UUID) error {
	expense, err := s.expenseRepo.FindByID(ctx, actor.OrganizationID, expenseID)
	if err != nil {
		return storageError(err, ErrNotFound)
	}
	if !canView(actor, expense) {
		return ErrForbidden
	}
	return nil
}

func toAttachmentResponse(a model.Attachment) *AttachmentResponse {
	var expenseID *string
	if a.ExpenseID != nil {
		s := a.ExpenseID.String()
		expenseID = &s
	}
	return &AttachmentResponse{
		ID:            a.ID.String(),
		ExpenseID:     expenseID,
		UploaderID:    a.UploaderID.String(),
		TemporarySlot: a.TemporarySlot,
		FileName:      a.FileName,
		StorageKey:    a.StorageKey,
		ContentType:   a.ContentType,
		SizeBytes:     a.SizeBytes,
		Committed:     a.IsCommitted(),
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
	}
}

func toAttachmentResponses(list []model.Attachment) []AttachmentResponse {
	res := make([]AttachmentResponse, 0, len(list))
	for _, a := range list {
		res = append(res, *toAttachmentResponse(a))
	}
	return res
}
