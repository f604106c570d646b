package messaging

import (
	"context"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"

	"github.com/clipgreet/personalizer/internal/gateway"
)

// WebhookNotifier posts rendered media to an external webhook as a multipart
// upload. Delivery is best effort: failures are logged and never surface to
// the caller.
type WebhookNotifier struct {
	gw  *gateway.Client
	log *logger.Logger
}

// NewWebhookNotifier creates a notifier posting to the given webhook URL. The
// URL is the gateway client's base URL; the notifier posts to its root.
func NewWebhookNotifier(gatewayClient *gateway.Client, log *logger.Logger) *WebhookNotifier {
	return &WebhookNotifier{gw: gatewayClient, log: log}
}

// NotifyRendered uploads the rendered media file together with the owner and
// contact identity. Errors are swallowed after logging.
func (n *WebhookNotifier) NotifyRendered(ctx context.Context, ownerKey, contactName, mediaPath string) {
	data, readErr := os.ReadFile(mediaPath)
	if readErr != nil {
		n.log.Warn("Webhook notification for %s skipped: %v", contactName, readErr)

		return
	}

	fields := map[string]string{
		"owner":   ownerKey,
		"contact": contactName,
	}

	_, uploadErr := n.gw.UploadRaw(ctx, "", "file", filepath.Base(mediaPath), data, fields)
	if uploadErr != nil {
		n.log.Warn("Webhook notification for %s failed: %v", contactName, uploadErr)
	}
}
