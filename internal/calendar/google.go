package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiyo123456/Tatemoku-management/internal/logging"
	"github.com/kiyo123456/Tatemoku-management/internal/scheduler"
)

// DefaultBaseURL is the public Google Calendar API endpoint.
const DefaultBaseURL = "https://www.googleapis.com"

// ErrMissingAccessToken is returned when no OAuth access token is attached to the context.
var ErrMissingAccessToken = errors.New("calendar: access token is required")

type accessTokenKey struct{}

// ContextWithAccessToken attaches the caller's calendar access token.
func ContextWithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

// AccessTokenFromContext returns the token attached by ContextWithAccessToken.
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(accessTokenKey{}).(string)
	return token, ok && token != ""
}

// CalendarError reports a per-calendar failure inside an otherwise successful response.
type CalendarError struct {
	ContactKey string
	Reason     string
}

func (e *CalendarError) Error() string {
	return fmt.Sprintf("calendar: lookup for %s failed: %s", e.ContactKey, e.Reason)
}

// GoogleFreeBusy queries the Google Calendar freeBusy endpoint for a batch of calendars.
type GoogleFreeBusy struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewGoogleFreeBusy builds a provider. A nil client gets one with the given timeout.
func NewGoogleFreeBusy(baseURL string, client *http.Client, timeout time.Duration, logger *slog.Logger) *GoogleFreeBusy {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GoogleFreeBusy{baseURL: strings.TrimRight(baseURL, "/"), client: client, logger: logger}
}

type freeBusyItem struct {
	ID string `json:"id"`
}

type freeBusyRequest struct {
	TimeMin string         `json:"timeMin"`
	TimeMax string         `json:"timeMax"`
	Items   []freeBusyItem `json:"items"`
}

type freeBusyResponse struct {
	Calendars map[string]struct {
		Busy []struct {
			Start time.Time `json:"start"`
			End   time.Time `json:"end"`
		} `json:"busy"`
		Errors []struct {
			Domain string `json:"domain"`
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"calendars"`
}

// FreeBusy implements scheduler.AvailabilityProvider with a single HTTP round trip.
func (g *GoogleFreeBusy) FreeBusy(ctx context.Context, contactKeys []string, start, end time.Time) (map[string][]scheduler.Interval, error) {
	token, ok := AccessTokenFromContext(ctx)
	if !ok {
		return nil, ErrMissingAccessToken
	}

	payload := freeBusyRequest{
		TimeMin: start.UTC().Format(time.RFC3339),
		TimeMax: end.UTC().Format(time.RFC3339),
		Items:   make([]freeBusyItem, 0, len(contactKeys)),
	}
	for _, key := range contactKeys {
		payload.Items = append(payload.Items, freeBusyItem{ID: key})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("calendar: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/calendar/v3/freeBusy", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("calendar: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	logger := g.loggerFor(ctx).With("calendars", len(contactKeys))
	started := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		logger.WarnContext(ctx, "free/busy request failed", "error", err)
		return nil, fmt.Errorf("calendar: free/busy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.WarnContext(ctx, "free/busy request rejected", "status", resp.StatusCode)
		return nil, fmt.Errorf("calendar: free/busy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded freeBusyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("calendar: decode response: %w", err)
	}

	result := make(map[string][]scheduler.Interval, len(contactKeys))
	for _, key := range contactKeys {
		entry, ok := decoded.Calendars[key]
		if !ok {
			result[key] = nil
			continue
		}
		if len(entry.Errors) > 0 {
			return nil, &CalendarError{ContactKey: key, Reason: entry.Errors[0].Reason}
		}
		intervals := make([]scheduler.Interval, 0, len(entry.Busy))
		for _, b := range entry.Busy {
			intervals = append(intervals, scheduler.Interval{Start: b.Start, End: b.End})
		}
		result[key] = intervals
	}

	logger.DebugContext(ctx, "free/busy fetched", "duration", time.Since(started))
	return result, nil
}

func (g *GoogleFreeBusy) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return g.logger
}
