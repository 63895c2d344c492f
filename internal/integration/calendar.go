package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/scheduling"
)

// Event is the descriptor sent to the calendar provider.
type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// CalendarClient creates an event on a user's linked external calendar.
// A user with no linked credential is skipped: the call returns ("", nil),
// not an error. Any real failure is terminal for this attempt; the caller
// logs it and moves on.
type CalendarClient interface {
	CreateEvent(ctx context.Context, user *scheduling.User, ev Event) (string, error)
}

// TokenStore persists a refreshed access token so the next dispatch does
// not have to refresh again.
type TokenStore interface {
	UpdateCalendarAccessToken(ctx context.Context, userID uuid.UUID, token string) error
}

type googleCalendarClient struct {
	baseURL  string
	tokenURL string
	http     *http.Client
	tokens   TokenStore
	log      *zap.Logger
}

func NewGoogleCalendarClient(baseURL, tokenURL string, tokens TokenStore, log *zap.Logger) CalendarClient {
	return &googleCalendarClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		tokenURL: tokenURL,
		http:     &http.Client{Timeout: 10 * time.Second},
		tokens:   tokens,
		log:      log,
	}
}

type calendarEventBody struct {
	Summary     string           `json:"summary"`
	Description string           `json:"description"`
	Start       calendarDateTime `json:"start"`
	End         calendarDateTime `json:"end"`
}

type calendarDateTime struct {
	DateTime string `json:"dateTime"`
}

type calendarEventResponse struct {
	ID string `json:"id"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (c *googleCalendarClient) CreateEvent(ctx context.Context, user *scheduling.User, ev Event) (string, error) {
	if user.CalendarRefreshToken == nil || *user.CalendarRefreshToken == "" {
		c.log.Warn("user has no linked calendar, skipping event creation",
			zap.String("user_id", user.ID.String()))
		return "", nil
	}

	accessToken := ""
	if user.CalendarAccessToken != nil {
		accessToken = *user.CalendarAccessToken
	}

	eventID, status, err := c.insertEvent(ctx, accessToken, ev)
	if err != nil {
		return "", err
	}
	if status != http.StatusUnauthorized {
		return eventID, nil
	}

	// Provider rejected the token: refresh once, persist, retry once.
	accessToken, err = c.refreshToken(ctx, user)
	if err != nil {
		return "", fmt.Errorf("refresh calendar token: %w", err)
	}
	if err := c.tokens.UpdateCalendarAccessToken(ctx, user.ID, accessToken); err != nil {
		c.log.Error("failed to persist refreshed calendar token",
			zap.String("user_id", user.ID.String()), zap.Error(err))
	}

	eventID, status, err = c.insertEvent(ctx, accessToken, ev)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized {
		return "", fmt.Errorf("calendar provider rejected refreshed token for user %s", user.ID)
	}
	return eventID, nil
}

// insertEvent posts the event. A 401 is reported via status so the caller
// can refresh; other non-2xx statuses are errors.
func (c *googleCalendarClient) insertEvent(ctx context.Context, accessToken string, ev Event) (string, int, error) {
	body := calendarEventBody{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       calendarDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         calendarDateTime{DateTime: ev.End.Format(time.RFC3339)},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", 0, fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/calendars/primary/events", bytes.NewReader(payload))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("insert calendar event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return "", http.StatusUnauthorized, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", resp.StatusCode, fmt.Errorf("calendar provider returned %d: %s", resp.StatusCode, string(b))
	}

	var out calendarEventResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode calendar response: %w", err)
	}

	return out.ID, resp.StatusCode, nil
}

func (c *googleCalendarClient) refreshToken(ctx context.Context, user *scheduling.User) (string, error) {
	tokenURL := c.tokenURL
	if user.CalendarTokenURI != nil && *user.CalendarTokenURI != "" {
		tokenURL = *user.CalendarTokenURI
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", *user.CalendarRefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(b))
	}

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access token")
	}

	return out.AccessToken, nil
}
