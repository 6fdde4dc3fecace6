package notification

import (
	"context"
	"errors"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/privacy"

	"github.com/sirupsen/logrus"
)

// Publisher delivers built notifications.
type Publisher interface {
	Publish(n models.Notification) int
}

// Notifier builds and publishes notifications for the workers.
type Notifier struct {
	builder   *Builder
	publisher Publisher
	logger    *logrus.Logger
}

func NewNotifier(builder *Builder, publisher Publisher, logger *logrus.Logger) *Notifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &Notifier{builder: builder, publisher: publisher, logger: logger}
}

// NotifyConversations publishes a new-messages notification for each
// conversation that still has something unread. A failure for one
// conversation does not stop the others.
func (n *Notifier) NotifyConversations(ctx context.Context, cids []models.ConversationID) error {
	var errs []error
	for _, cid := range cids {
		if err := ctx.Err(); err != nil {
			return err
		}
		notification, err := n.builder.Build(ctx, cid)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if notification == nil {
			continue
		}
		delivered := n.publisher.Publish(*notification)
		n.logger.WithFields(logrus.Fields{
			"conversation": privacy.MaskConversation(cid.DID, cid.Contact),
			"unread":       notification.UnreadCount,
			"delivered":    delivered,
		}).Debug("Published new messages notification")
	}
	return errors.Join(errs...)
}

func (n *Notifier) NotifySendFailed(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n.publisher.Publish(*n.builder.BuildSendFailed(msg))
	return nil
}
