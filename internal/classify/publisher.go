// Copyright (c) 2026 John Earle
//
// Licensed under the Business Source License 1.1 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://github.com/oneboxhq/syncd/blob/main/LICENSE
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package classify enqueues normalized messages for the AI classification
// workers. Tasks go to Redis in Celery format; the Python workers return
// category, confidence, and reasoning out of band. A failure here never
// blocks further message processing.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/oneboxhq/syncd/internal/models"
)

// taskName is the Celery task the classification workers register.
const taskName = "analysis.tasks.classify_email"

// Publisher sends classification tasks to Redis in Celery task format.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// classifyPayload is the per-message input contract of the classification
// workers.
type classifyPayload struct {
	CompositeID string           `json:"composite_id"`
	AccountID   string           `json:"account_id"`
	Subject     string           `json:"subject"`
	Body        string           `json:"body"`
	Sender      models.Address   `json:"sender"`
	Recipients  []models.Address `json:"recipients"`
}

// celeryTask represents a Celery-compatible task message.
// Celery reads tasks from Redis using this exact JSON structure.
type celeryTask struct {
	ID      string        `json:"id"`
	Task    string        `json:"task"`
	Args    []interface{} `json:"args"`
	Kwargs  interface{}   `json:"kwargs"`
	Retries int           `json:"retries"`
	ETA     *string       `json:"eta"`
}

// celeryMessage wraps a task for Redis transport.
type celeryMessage struct {
	Body            string                 `json:"body"`
	ContentEncoding string                 `json:"content-encoding"`
	ContentType     string                 `json:"content-type"`
	Headers         map[string]interface{} `json:"headers"`
	Properties      map[string]interface{} `json:"properties"`
}

// Enqueue publishes one classification task for a normalized message.
// Body prefers the plain-text body and falls back to HTML.
func (p *Publisher) Enqueue(ctx context.Context, msg *models.Message) error {
	body := msg.TextBody
	if body == "" {
		body = msg.HTMLBody
	}

	recipients := make([]models.Address, 0, len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	recipients = append(recipients, msg.To...)
	recipients = append(recipients, msg.Cc...)
	recipients = append(recipients, msg.Bcc...)

	payload, err := json.Marshal(classifyPayload{
		CompositeID: msg.CompositeID,
		AccountID:   msg.AccountID,
		Subject:     msg.Subject,
		Body:        body,
		Sender:      msg.From,
		Recipients:  recipients,
	})
	if err != nil {
		return fmt.Errorf("marshal classify payload: %w", err)
	}

	taskID := uuid.New().String()

	task := celeryTask{
		ID:     taskID,
		Task:   taskName,
		Args:   []interface{}{string(payload)},
		Kwargs: map[string]interface{}{},
	}
	taskBody, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal celery task: %w", err)
	}

	envelope := celeryMessage{
		Body:            string(taskBody),
		ContentEncoding: "utf-8",
		ContentType:     "application/json",
		Headers: map[string]interface{}{
			"lang":    "py",
			"task":    taskName,
			"id":      taskID,
			"retries": 0,
		},
		Properties: map[string]interface{}{
			"correlation_id": taskID,
			"delivery_mode":  2,
			"delivery_tag":   taskID,
			"body_encoding":  "utf-8",
			"exchange":       p.queueName,
			"routing_key":    p.queueName,
			"delivery_info": map[string]string{
				"exchange":    p.queueName,
				"routing_key": p.queueName,
			},
		},
	}

	envelopeJSON, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal celery message: %w", err)
	}

	// Celery reads tasks via LPUSH to the queue.
	if err := p.rdb.LPush(ctx, p.queueName, string(envelopeJSON)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("classification task enqueued",
		"task_id", taskID,
		"composite_id", msg.CompositeID,
		"queue", p.queueName,
	)

	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
