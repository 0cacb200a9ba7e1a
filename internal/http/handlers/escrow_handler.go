package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/handshake-escrow/backend/internal/apperr"
	"github.com/handshake-escrow/backend/internal/http/dto"
	"github.com/handshake-escrow/backend/internal/middleware"
	"github.com/handshake-escrow/backend/internal/models"
	"github.com/handshake-escrow/backend/internal/repositories"
	"github.com/handshake-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	escrowService *services.EscrowService
	auditRepo     *repositories.AuditRepo
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, auditRepo *repositories.AuditRepo, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, auditRepo: auditRepo, log: log}
}

func (h *EscrowHandler) CreateEscrow(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	actor := middleware.GetAgentID(c)
	esc, err := h.escrowService.Create(c.Context(), actor, services.CreateEscrowInput{
		BuyerAgentID:   req.BuyerAgentID,
		WorkerAgentID:  req.WorkerAgentID,
		JobDescription: req.JobDescription,
		AmountLocked:   req.AmountLocked,
		Currency:       req.Currency,
		BuyerWallet:    req.BuyerWallet,
		WorkerWallet:   req.WorkerWallet,
	})
	if err != nil {
		return h.respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.EscrowResponse{Success: true, Escrow: esc})
}

func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}

	esc, err := h.escrowService.Get(c.Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(dto.EscrowResponse{Success: true, Escrow: esc})
}

func (h *EscrowHandler) ListEscrows(c *fiber.Ctx) error {
	filter := repositories.EscrowFilter{
		Limit:  20,
		Offset: 0,
	}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}
	if v := c.Query("buyer_agent_id"); v != "" {
		filter.BuyerAgentID = &v
	}
	if v := c.Query("worker_agent_id"); v != "" {
		filter.WorkerAgentID = &v
	}

	escrows, err := h.escrowService.List(c.Context(), filter)
	if err != nil {
		h.log.Error("list escrows failed", zap.Error(err))
		return internalError(c)
	}

	if escrows == nil {
		escrows = []models.Escrow{}
	}
	return c.JSON(dto.EscrowListResponse{Success: true, Escrows: escrows})
}

func (h *EscrowHandler) SubmitWork(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}

	var req dto.SubmitWorkRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	actor := middleware.GetAgentID(c)
	esc, err := h.escrowService.Submit(c.Context(), actor, id, req.WorkDescription)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(dto.EscrowResponse{Success: true, Escrow: esc})
}

func (h *EscrowHandler) VerifyEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}

	actor := middleware.GetAgentID(c)
	result, err := h.escrowService.Verify(c.Context(), actor, id)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(dto.VerifyResponse{
		Success: true,
		Verdict: result.Verdict,
		Status:  result.Status,
		Message: result.Reasoning,
	})
}

func (h *EscrowHandler) PayoutEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}

	actor := middleware.GetAgentID(c)
	result, err := h.escrowService.Payout(c.Context(), actor, id)
	if err != nil {
		return h.respondError(c, err)
	}

	message := "payout executed"
	if result.Manual {
		message = "no signing key configured, execute the attached instructions out of band"
	}

	return c.JSON(dto.PayoutResponse{
		Success:      true,
		WorkerPaid:   result.WorkerPaid,
		TollFee:      result.TollFee,
		PayoutTx:     result.PayoutTx,
		TollTx:       result.TollTx,
		Manual:       result.Manual,
		Instructions: result.Instructions,
		Message:      message,
	})
}

func (h *EscrowHandler) RefundEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}

	actor := middleware.GetAgentID(c)
	esc, err := h.escrowService.Refund(c.Context(), actor, id)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(dto.RefundResponse{Success: true, Status: esc.Status, Message: "escrow refunded"})
}

func (h *EscrowHandler) GetEscrowEvents(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}

	entries, err := h.auditRepo.GetByEntity(c.Context(), "escrow", id, 100, 0)
	if err != nil {
		h.log.Error("get escrow events failed", zap.Error(err))
		return internalError(c)
	}

	return c.JSON(dto.EventsResponse{Success: true, Events: entries})
}

// respondError maps the domain error taxonomy onto the HTTP surface.
func (h *EscrowHandler) respondError(c *fiber.Ctx, err error) error {
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Success: false, Error: ve.Error()})
	}

	var sc *apperr.StateConflictError
	if errors.As(err, &sc) {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Success: false, Error: sc.Error()})
	}

	if errors.Is(err, apperr.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Success: false, Error: "escrow not found"})
	}

	var ju *apperr.JudgeUnavailableError
	if errors.As(err, &ju) {
		h.log.Warn("judge unavailable", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Success: false, Error: "judge unavailable, retry verify"})
	}

	var sf *apperr.SettlementFailedError
	if errors.As(err, &sf) {
		h.log.Error("settlement failed", zap.String("payout_tx", sf.WorkerTx), zap.Error(err))
		msg := "settlement failed"
		if sf.WorkerTx != "" {
			msg = "settlement partially failed: worker paid, toll transfer pending retry"
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Success: false, Error: msg})
	}

	h.log.Error("unexpected error", zap.Error(err))
	return internalError(c)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Success: false, Error: msg})
}

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Success: false, Error: "internal error"})
}
