package handlers

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/mihmosh/MeetConfirm/internal/reconciler"
	"github.com/mihmosh/MeetConfirm/internal/repository"
)

// Watcher manages the push channel for calendar changes.
type Watcher interface {
	Watch(ctx context.Context, webhookURL string) (channelID, resourceID string, err error)
	StopWatch(ctx context.Context, channelID, resourceID string) error
}

// SyncHandler covers webhook intake and the admin sync operations. Reconcile
// passes are serialized: the reconciler is single-flight per deployment and
// webhook bursts should queue, not interleave.
type SyncHandler struct {
	rec        *reconciler.Reconciler
	repo       *repository.BookingRepo
	watcher    Watcher
	serviceURL string

	mu sync.Mutex
}

func NewSyncHandler(rec *reconciler.Reconciler, repo *repository.BookingRepo, watcher Watcher, serviceURL string) *SyncHandler {
	return &SyncHandler{rec: rec, repo: repo, watcher: watcher, serviceURL: serviceURL}
}

// POST /api/v1/webhook/calendar
func (h *SyncHandler) Webhook(c *gin.Context) {
	state := c.GetHeader("X-Goog-Resource-State")
	log.Printf("[http] calendar webhook: state=%s", state)
	if state == "sync" {
		// channel registration handshake, no changes yet
		c.JSON(http.StatusOK, gin.H{"status": "sync_received"})
		return
	}
	if err := h.RunReconcile(c.Request.Context()); err != nil {
		log.Printf("[http] webhook reconcile: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process calendar changes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "changes_processed"})
}

// POST /api/v1/admin/reconcile
func (h *SyncHandler) Reconcile(c *gin.Context) {
	if err := h.RunReconcile(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// POST /api/v1/admin/watch
func (h *SyncHandler) SetupWatch(c *gin.Context) {
	channelID, err := h.RenewWatch(c.Request.Context())
	if err != nil {
		log.Printf("[http] setup watch: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set up calendar watch"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "channel_id": channelID})
}

// RunReconcile is also the cron entry point for the periodic fallback sync.
func (h *SyncHandler) RunReconcile(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.Reconcile(ctx)
}

// RenewWatch stops the previous push channel and registers a fresh one; the
// provider caps channel lifetime so this runs on a schedule as well as on
// demand. A failure to stop the old channel is logged, not fatal: it will
// expire on its own.
func (h *SyncHandler) RenewWatch(ctx context.Context) (string, error) {
	oldID, oldResource, err := h.repo.Channel(ctx)
	if err != nil {
		return "", err
	}
	if oldID != "" {
		if err := h.watcher.StopWatch(ctx, oldID, oldResource); err != nil {
			log.Printf("[http] stop previous watch %s: %v", oldID, err)
		}
	}
	channelID, resourceID, err := h.watcher.Watch(ctx, h.serviceURL+"/api/v1/webhook/calendar")
	if err != nil {
		return "", err
	}
	if err := h.repo.SaveChannel(ctx, channelID, resourceID); err != nil {
		return "", err
	}
	return channelID, nil
}
