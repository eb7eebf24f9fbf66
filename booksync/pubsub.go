package booksync

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/workflow"
)

const (
	defaultSyncTopic        = "books-sync"
	defaultSyncSubscription = "books-sync-recompute"
)

// StartSyncSubscriber pulls connector sync messages and runs recomputations
// until the context is cancelled. Poison messages (invalid envelope) are
// acked and dropped; transient failures are nacked for redelivery.
func StartSyncSubscriber(ctx context.Context, logger *logrus.Logger, recomputer *workflow.Recomputer) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topicName := strings.TrimSpace(os.Getenv("BOOKSYNC_TOPIC"))
	if topicName == "" {
		topicName = defaultSyncTopic
	}
	subName := strings.TrimSpace(os.Getenv("BOOKSYNC_SUBSCRIPTION"))
	if subName == "" {
		subName = defaultSyncSubscription
	}

	topic, err := config.CreateTopicIfNotExists(client, topicName)
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, subName, topic)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"topic":        topicName,
		"subscription": subName,
	}).Info("booksync.subscriber.started")

	return sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		var msg SyncMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			config.LogError(logger, "pubsub.go", "StartSyncSubscriber", "Unmarshal", string(m.Data), err)
			m.Ack()
			return
		}
		if msg.CorrelationId == "" {
			msg.CorrelationId = m.ID
		}
		if _, err := ProcessSyncMessage(ctx, logger, recomputer, msg); err != nil {
			config.LogError(logger, "pubsub.go", "StartSyncSubscriber", "Process", msg.CompanyId, err)
			// Validation failures are poison; everything else retries.
			if msg.Validate() != nil {
				m.Ack()
				return
			}
			m.Nack()
			return
		}
		m.Ack()
	})
}
