package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/pointledger/internal/ledger"
)

// RegisterPointRoutes wires balance and history endpoints. guards run, in
// order, before the mutation handlers only.
func RegisterPointRoutes(r fiber.Router, h *ledger.Handler, guards ...fiber.Handler) {
	group := r.Group("/point")
	group.Get("/:id", h.Point)
	group.Get("/:id/histories", h.Histories)
	group.Patch("/:id/charge", chain(guards, h.Charge)...)
	group.Patch("/:id/use", chain(guards, h.Use)...)
}

func chain(guards []fiber.Handler, h fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(guards)+1)
	out = append(out, guards...)
	return append(out, h)
}
