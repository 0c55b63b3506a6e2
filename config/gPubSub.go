package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// LedgerEventMessage is the payload consumers (general ledger, reporting) receive
// for every appended inventory movement.
type LedgerEventMessage struct {
	OutboxId        int             `json:"outbox_id"`
	TenantId        string          `json:"tenant_id"`
	Ledger          string          `json:"ledger"`
	EntryId         string          `json:"entry_id"`
	MovementKind    string          `json:"movement_kind"`
	TransactionDate time.Time       `json:"transaction_date"`
	SourceDocType   string          `json:"source_doc_type"`
	SourceDocId     int             `json:"source_doc_id"`
	Payload         json.RawMessage `json:"payload"`
	CorrelationId   string          `json:"correlation_id"`
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

// GetPubSubClient returns a Pub/Sub client, initializing with retries if needed.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	if pubsubClient != nil {
		c := pubsubClient
		pubsubClientMu.Unlock()
		return c, nil
	}
	pubsubClientMu.Unlock()

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}
	credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON")

	var attempt int
	for {
		attempt++
		var (
			c   *pubsub.Client
			err error
		)
		if credJSON != "" {
			c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
		} else {
			c, err = pubsub.NewClient(ctx, projectID)
		}
		if err == nil {
			pubsubClientMu.Lock()
			if pubsubClient == nil {
				pubsubClient = c
			} else {
				// Another goroutine won the race; close ours.
				_ = c.Close()
			}
			c2 := pubsubClient
			pubsubClientMu.Unlock()
			log.Printf("pubsub client ready (project_id=%s attempt=%d)", projectID, attempt)
			return c2, nil
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to init pubsub client (project_id=%s attempt=%d): %v; retrying in %s", projectID, attempt, err, sleep)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func CreateTopicIfNotExists(ctx context.Context, c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}

// PubSubLedgerPublisher publishes ledger events to LEDGER_EVENTS_TOPIC.
type PubSubLedgerPublisher struct {
	TopicName string

	mu    sync.Mutex
	topic *pubsub.Topic
}

func NewPubSubLedgerPublisher() *PubSubLedgerPublisher {
	return &PubSubLedgerPublisher{TopicName: os.Getenv("LEDGER_EVENTS_TOPIC")}
}

// Publish returns the Pub/Sub server-assigned message ID.
func (p *PubSubLedgerPublisher) Publish(ctx context.Context, msg LedgerEventMessage) (string, error) {
	if p.TopicName == "" {
		return "", errors.New("LEDGER_EVENTS_TOPIC is required")
	}
	client, err := GetPubSubClient(ctx)
	if err != nil {
		return "", err
	}
	topic, err := p.ledgerTopic(ctx, client)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"tenant_id": msg.TenantId,
			"ledger":    msg.Ledger,
		},
	})
	return result.Get(ctx)
}

// ledgerTopic resolves (and creates on first use) the topic once per publisher.
// A failed lookup is retried on the next publish.
func (p *PubSubLedgerPublisher) ledgerTopic(ctx context.Context, c *pubsub.Client) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		return p.topic, nil
	}
	t, err := CreateTopicIfNotExists(ctx, c, p.TopicName)
	if err != nil {
		return nil, err
	}
	p.topic = t
	return t, nil
}
