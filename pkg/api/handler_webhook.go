package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kestrelmedia/reelforge/pkg/planningsync"
	"github.com/kestrelmedia/reelforge/pkg/queue"
)

// planWebhookSignatureHeader carries the hex-encoded HMAC-SHA256 digest of
// the raw request body, keyed by SystemConfig.PlanningStoreWebhookSecret.
const planWebhookSignatureHeader = "X-Planning-Store-Signature"

// planWebhookHandler implements POST /webhook/plan: verify the HMAC
// signature, parse the event, enqueue. Responds well under the 500ms
// budget since it does no stage work itself.
func (s *Server) planWebhookHandler(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	sig := c.GetHeader(planWebhookSignatureHeader)
	if err := planningsync.VerifySignature(s.webhookSecret, body, sig); err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
		return
	}

	var event planningsync.PlanEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed event: " + err.Error()})
		return
	}
	if err := event.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	channelID, err := s.dir.ResolveID(event.ChannelKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown channel_key: " + event.ChannelKey})
		return
	}

	_, err = s.store.Enqueue(c.Request.Context(), queue.EnqueueInput{
		ID:             uuid.NewString(),
		ChannelID:      channelID,
		ChannelKey:     event.ChannelKey,
		PlanningPageID: event.PlanningPageID,
		Title:          event.Title,
		Topic:          event.Topic,
		StoryDirection: event.StoryDirection,
		Priority:       event.Priority,
	})
	if err != nil {
		if errors.Is(err, queue.ErrDuplicateTask) {
			c.JSON(http.StatusConflict, errorResponse{Error: "task already active for this planning_page_id"})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to enqueue task"})
		return
	}

	c.Status(http.StatusOK)
}
