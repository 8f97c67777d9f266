package adminapi

import (
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/zapmirror/zapmirror/internal/webserver"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func registerWebhookRoutes() {
	webserver.PubPOST("/webhooks/evolution", postEvolutionWebhook)
}

// postEvolutionWebhook is the gateway intake. The body is persisted to the
// job queue and acknowledged immediately; nothing downstream runs on the
// request path. Empty bodies are registration probes and are acked without
// enqueueing.
func postEvolutionWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to read body", nil)
	}

	var payload map[string]interface{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			zap.S().Warnf("webhook intake: non-json body acked and dropped")
			return c.JSON(http.StatusOK, map[string]interface{}{"status": "acknowledged"})
		}
	}
	if len(payload) == 0 {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "acknowledged"})
	}

	// event classification and discarding happen in the processor
	if err := jobQueue.Enqueue("webhook.event", payload); err != nil {
		zap.S().Errorf("webhook intake: enqueue failed: %s", err)
		return fail(c, http.StatusInternalServerError, "QUEUE_ERROR", "Failed to persist event", nil)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "acknowledged"})
}
