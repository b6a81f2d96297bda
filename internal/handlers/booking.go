package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mihmosh/MeetConfirm/internal/workflow"
)

type BookingHandler struct {
	wf *workflow.Service
}

func NewBookingHandler(wf *workflow.Service) *BookingHandler {
	return &BookingHandler{wf: wf}
}

// GET /api/v1/confirm?token=...&booking_id=...
func (h *BookingHandler) Confirm(c *gin.Context) {
	tok := c.Query("token")
	id := c.Query("booking_id")
	if tok == "" || id == "" {
		c.String(http.StatusBadRequest, "missing token or booking_id")
		return
	}
	out, err := h.wf.Confirm(c.Request.Context(), tok, id)
	if err != nil {
		log.Printf("[http] confirm %s: %v", id, err)
		c.String(http.StatusInternalServerError, "could not process your confirmation, please try again")
		return
	}
	respondOutcome(c, out,
		"Thank you! Your appointment is confirmed.",
		"This appointment has already been handled.")
}

// GET /api/v1/cancel?token=...&booking_id=...
func (h *BookingHandler) Cancel(c *gin.Context) {
	tok := c.Query("token")
	id := c.Query("booking_id")
	if tok == "" || id == "" {
		c.String(http.StatusBadRequest, "missing token or booking_id")
		return
	}
	out, err := h.wf.Cancel(c.Request.Context(), tok, id)
	if err != nil {
		log.Printf("[http] cancel %s: %v", id, err)
		c.String(http.StatusInternalServerError, "could not process your cancellation, please try again")
		return
	}
	respondOutcome(c, out,
		"Your appointment has been cancelled.",
		"This appointment has already been handled.")
}

func respondOutcome(c *gin.Context, out workflow.Outcome, successMsg, handledMsg string) {
	switch out {
	case workflow.OutcomeSuccess:
		c.String(http.StatusOK, successMsg)
	case workflow.OutcomeInvalidToken:
		c.String(http.StatusForbidden, "This link is invalid.")
	case workflow.OutcomeNotFound:
		c.String(http.StatusNotFound, "We could not find this appointment.")
	case workflow.OutcomeAlreadyCancelled:
		c.String(http.StatusGone, "This appointment has already been cancelled.")
	default:
		c.String(http.StatusOK, handledMsg)
	}
}
