package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/dashboard"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/dto"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/service"
	"github.com/Ebrudra/desk-access-hub/pkg/middleware"
	"github.com/Ebrudra/desk-access-hub/pkg/response"
)

// BookingHandler handles booking HTTP requests. Mutations run through the
// caller's query cache so the affected dashboard keys refetch right away;
// other consoles follow through the change feed.
type BookingHandler struct {
	bookings service.BookingService
	consoles Consoles
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookings service.BookingService, consoles Consoles) *BookingHandler {
	return &BookingHandler{bookings: bookings, consoles: consoles}
}

// List returns the caller's bookings, or everyone's with ?all=true
// GET /api/v1/bookings
func (h *BookingHandler) List(c *gin.Context) {
	var q dto.ListBookingsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	rows, err := h.bookings.List(c.Request.Context(), middleware.UserID(c), &q)
	if err != nil {
		respondError(c, err)
		return
	}
	response.SuccessWithMeta(c, rows, gin.H{"count": len(rows)})
}

// Get returns one booking
// GET /api/v1/bookings/:id
func (h *BookingHandler) Get(c *gin.Context) {
	b, err := h.bookings.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, b)
}

// Create books a resource
// POST /api/v1/bookings
func (h *BookingHandler) Create(c *gin.Context) {
	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	userID := middleware.UserID(c)

	var created *domain.Booking
	err := h.mutate(c, func(ctx context.Context) error {
		var err error
		created, err = h.bookings.Create(ctx, userID, &req)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, created)
}

// UpdateStatus approves, cancels or completes a booking
// PATCH /api/v1/bookings/:id/status
func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	var req dto.UpdateBookingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	userID := middleware.UserID(c)

	var updated *domain.Booking
	err := h.mutate(c, func(ctx context.Context) error {
		var err error
		updated, err = h.bookings.UpdateStatus(ctx, userID, c.Param("id"), req.Status)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, updated)
}

// Delete removes a booking
// DELETE /api/v1/bookings/:id
func (h *BookingHandler) Delete(c *gin.Context) {
	userID := middleware.UserID(c)
	err := h.mutate(c, func(ctx context.Context) error {
		return h.bookings.Delete(ctx, userID, c.Param("id"))
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"id": c.Param("id"), "deleted": true})
}

// mutate runs fn and invalidates the caller's booking keys on success. A
// caller without a live console just runs fn.
func (h *BookingHandler) mutate(c *gin.Context, fn func(ctx context.Context) error) error {
	con, ok := h.consoles.Get(middleware.SessionID(c))
	if !ok {
		return fn(c.Request.Context())
	}
	return con.Cache().Mutate(c.Request.Context(), fn, dashboard.BookingKeys(con.UserID())...)
}
