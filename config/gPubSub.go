package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// StockEventMessage is the payload published for every committed stock ledger transaction.
type StockEventMessage struct {
	ID            int             `json:"id"`
	StockItemId   int             `json:"stock_item_id"`
	ReferenceType string          `json:"reference_type"`
	ReferenceId   int             `json:"reference_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationId string          `json:"correlation_id"`
}

var (
	pubsubClient    *pubsub.Client
	stockEventTopic *pubsub.Topic
	pubsubClientMu  sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

func getPubSubProjectID() string {
	// Prefer explicit override.
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

// getPubSubClient returns the shared client, creating it on first use.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}
	pubsubClient = c
	log.Printf("pubsub client ready (project_id=%s)", projectID)
	return pubsubClient, nil
}

// stockTopic returns the cached PUBSUB_STOCK_TOPIC handle. Messages carry the
// stock item id as ordering key, so events of one item arrive in ledger order.
func stockTopic(ctx context.Context) (*pubsub.Topic, error) {
	topicName := os.Getenv("PUBSUB_STOCK_TOPIC")
	if topicName == "" {
		return nil, errors.New("PUBSUB_STOCK_TOPIC is required")
	}
	client, err := getPubSubClient(ctx)
	if err != nil {
		return nil, err
	}
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if stockEventTopic == nil || stockEventTopic.ID() != topicName {
		stockEventTopic = client.Topic(topicName)
		stockEventTopic.EnableMessageOrdering = true
	}
	return stockEventTopic, nil
}

// PublishStockEvent publishes msg and returns the server-assigned message ID.
func PublishStockEvent(ctx context.Context, msg StockEventMessage) (string, error) {
	topic, err := stockTopic(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	orderingKey := "stock_item:" + strconv.Itoa(msg.StockItemId)
	result := topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: orderingKey,
		Attributes: map[string]string{
			"reference_type": msg.ReferenceType,
			"stock_item_id":  strconv.Itoa(msg.StockItemId),
			"correlation_id": msg.CorrelationId,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		// a failed ordered publish pauses the key until resumed
		topic.ResumePublish(orderingKey)
		return "", err
	}
	return id, nil
}

// ClosePubSub releases the shared client (best-effort).
func ClosePubSub() {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if stockEventTopic != nil {
		stockEventTopic.Stop()
		stockEventTopic = nil
	}
	if pubsubClient != nil {
		_ = pubsubClient.Close()
		pubsubClient = nil
	}
}
