package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mihmosh/MeetConfirm/internal/workflow"
)

// TaskHandler receives the delayed-dispatch callbacks. Non-2xx answers make
// the task queue redeliver, so only genuinely transient failures return 5xx;
// replays and unknown bookings are acked.
type TaskHandler struct {
	wf *workflow.Service
}

func NewTaskHandler(wf *workflow.Service) *TaskHandler {
	return &TaskHandler{wf: wf}
}

// POST /api/v1/tasks/remind/:id
func (h *TaskHandler) Remind(c *gin.Context) {
	id := c.Param("id")
	out, err := h.wf.OnRemindFired(c.Request.Context(), id)
	if err != nil {
		log.Printf("[tasks] remind %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(out)})
}

// POST /api/v1/tasks/enforce/:id
func (h *TaskHandler) Enforce(c *gin.Context) {
	id := c.Param("id")
	out, err := h.wf.OnEnforceFired(c.Request.Context(), id)
	if err != nil {
		log.Printf("[tasks] enforce %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(out)})
}
