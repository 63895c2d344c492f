package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Actions understood by the email microservice.
const (
	ActionSignupWelcome       = "SIGNUP_WELCOME"
	ActionBookingConfirmation = "BOOKING_CONFIRMATION"
)

// Notifier sends a templated message to a recipient. The call is
// fire-and-forget from the booking core's perspective: a short timeout,
// no retries, failures are non-fatal to the caller.
type Notifier interface {
	Send(ctx context.Context, action, recipient string, data map[string]string) error
}

type emailServiceClient struct {
	url  string
	http *http.Client
}

func NewEmailServiceClient(sendURL string, timeout time.Duration) Notifier {
	return &emailServiceClient{
		url:  sendURL,
		http: &http.Client{Timeout: timeout},
	}
}

type emailPayload struct {
	Action    string            `json:"action"`
	Recipient string            `json:"recipient"`
	Data      map[string]string `json:"data"`
}

func (c *emailServiceClient) Send(ctx context.Context, action, recipient string, data map[string]string) error {
	payload, err := json.Marshal(emailPayload{
		Action:    action,
		Recipient: recipient,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("email service returned %d", resp.StatusCode)
	}

	return nil
}
