package ledger

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/pointledger/internal/account"
	"github.com/congo-pay/pointledger/internal/history"
)

// Handler exposes point endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a point HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type pointResponse struct {
	ID           int64 `json:"id"`
	Point        int64 `json:"point"`
	UpdateMillis int64 `json:"updateMillis"`
}

type historyResponse struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"userId"`
	Type         string `json:"type"`
	Amount       int64  `json:"amount"`
	UpdateMillis int64  `json:"updateMillis"`
}

// Point returns the user's current balance.
func (h *Handler) Point(c *fiber.Ctx) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	acc, err := h.service.Balance(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(toPointResponse(acc))
}

// Histories returns the user's charge/use history in commit order.
func (h *Handler) Histories(c *fiber.Ctx) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	txs, err := h.service.History(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}
	out := make([]historyResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toHistoryResponse(tx))
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Charge credits the raw integer amount in the request body.
func (h *Handler) Charge(c *fiber.Ctx) error {
	id, amount, err := mutationArgs(c)
	if err != nil {
		return err
	}
	acc, err := h.service.Charge(c.UserContext(), id, amount)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(toPointResponse(acc))
}

// Use debits the raw integer amount in the request body.
func (h *Handler) Use(c *fiber.Ctx) error {
	id, amount, err := mutationArgs(c)
	if err != nil {
		return err
	}
	acc, err := h.service.Use(c.UserContext(), id, amount)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(toPointResponse(acc))
}

func userID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, fiber.NewError(http.StatusBadRequest, "id must be an integer")
	}
	return id, nil
}

func mutationArgs(c *fiber.Ctx) (int64, int64, error) {
	id, err := userID(c)
	if err != nil {
		return 0, 0, err
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(string(c.Body())), 10, 64)
	if err != nil {
		return 0, 0, fiber.NewError(http.StatusBadRequest, "amount must be an integer")
	}
	return id, amount, nil
}

func toHTTPError(err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return fiber.NewError(http.StatusBadRequest, verr.Message)
	}
	return err
}

func toPointResponse(acc account.Account) pointResponse {
	return pointResponse{ID: acc.UserID, Point: acc.Balance, UpdateMillis: acc.UpdatedAt.UnixMilli()}
}

func toHistoryResponse(tx history.Transaction) historyResponse {
	return historyResponse{
		ID:           tx.ID,
		UserID:       tx.UserID,
		Type:         string(tx.Type),
		Amount:       tx.Amount,
		UpdateMillis: tx.OccurredAt.UnixMilli(),
	}
}
