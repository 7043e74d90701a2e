package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// BatchCompletedMessage is published on PUBSUB_BATCH_TOPIC when a batch run finishes.
type BatchCompletedMessage struct {
	RunId            string    `json:"run_id"`
	Kind             string    `json:"kind"`
	Date             string    `json:"date,omitempty"`
	Year             int       `json:"year,omitempty"`
	Month            int       `json:"month,omitempty"`
	TotalProcessed   int       `json:"total_processed"`
	TotalMismatched  int       `json:"total_mismatched"`
	TotalNeedsReview int       `json:"total_needs_review"`
	TotalFailed      int       `json:"total_failed"`
	Aborted          bool      `json:"aborted"`
	RunDateTime      time.Time `json:"run_date_time"`
	CorrelationId    string    `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

// GetPubSubClient returns a Pub/Sub client, initializing it on first use.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetPubSubClient(ctx context.Context) (*pubsub.Client, error) {
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
	return c, nil
}

// PublishBatchCompleted publishes and returns the Pub/Sub server-assigned message ID.
func PublishBatchCompleted(ctx context.Context, msg BatchCompletedMessage) (string, error) {
	topicName := os.Getenv("PUBSUB_BATCH_TOPIC")
	if topicName == "" {
		return "", errors.New("PUBSUB_BATCH_TOPIC is required")
	}

	client, err := GetPubSubClient(ctx)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result := client.Topic(topicName).Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind":           msg.Kind,
			"correlation_id": msg.CorrelationId,
		},
	})
	return result.Get(ctx)
}

// ClosePubSubClient closes the shared client if one was opened.
func ClosePubSubClient() error {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient == nil {
		return nil
	}
	err := pubsubClient.Close()
	pubsubClient = nil
	return err
}
