// Copyright 2025 The GrepWise Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package alarms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/grepwise/grepwise/internal/logs"
)

const webhookAttempts = 3

// WebhookTransport posts alert payloads to the channel destination URL.
// Email, PagerDuty and the rest are external collaborators; webhooks are
// the built-in delivery path.
type WebhookTransport struct {
	client *http.Client
	logger logs.StructuredLogger
}

// NewWebhookTransport builds the transport. A nil client gets a default
// with a 10s timeout.
func NewWebhookTransport(logger logs.StructuredLogger, client *http.Client) *WebhookTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookTransport{client: client, logger: logger}
}

// SendAlert posts one alarm notification. Delivery is retried a few times
// with backoff; sends are idempotent on the receiving side by alarm id
// and timestamp.
func (t *WebhookTransport) SendAlert(alarm *Alarm, destination, message string) bool {
	payload := map[string]any{
		"type":       "alarm",
		"alarm_id":   alarm.ID,
		"alarm_name": alarm.Name,
		"message":    message,
		"sent_at":    time.Now().UTC().Format(time.RFC3339),
	}
	return t.post(destination, payload)
}

// SendGroupedAlert posts one grouped notification.
func (t *WebhookTransport) SendGroupedAlert(groupingKey, destination, message string, count int) bool {
	payload := map[string]any{
		"type":         "grouped_alarm",
		"grouping_key": groupingKey,
		"message":      message,
		"alarm_count":  count,
		"sent_at":      time.Now().UTC().Format(time.RFC3339),
	}
	return t.post(destination, payload)
}

func (t *WebhookTransport) post(destination string, payload map[string]any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		t.logger.Errorf("alarms: encoding webhook payload: %v", err)
		return false
	}
	operation := func() error {
		resp, err := t.client.Post(destination, "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned %s", resp.Status)
		}
		return nil
	}
	err = backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), webhookAttempts-1))
	if err != nil {
		t.logger.Warnf("alarms: webhook delivery to %s failed: %v", destination, err)
		return false
	}
	return true
}
