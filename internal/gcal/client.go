// Package gcal adapts the Google Calendar v3 API to the calendar surface
// used by the sync driver.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"shiftcal/internal/apperr"
	"shiftcal/internal/model"
)

// Credentials identify the service account. Either File (a service account
// JSON key) or Email + PrivateKey (PEM) must be set.
type Credentials struct {
	File       string
	Email      string
	PrivateKey string
}

// Client talks to Google Calendar as a service account.
type Client struct {
	svc *calendar.Service
}

// New builds an authenticated client.
func New(ctx context.Context, creds Credentials) (*Client, error) {
	httpClient, err := authClient(ctx, creds)
	if err != nil {
		return nil, err
	}
	return NewWithOptions(ctx, option.WithHTTPClient(httpClient))
}

// NewWithOptions builds a client from raw API options; tests use it to
// point at a local server.
func NewWithOptions(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcal: new service: %w", err)
	}
	return &Client{svc: svc}, nil
}

func authClient(ctx context.Context, creds Credentials) (*http.Client, error) {
	if creds.File != "" {
		data, err := os.ReadFile(creds.File)
		if err != nil {
			return nil, fmt.Errorf("gcal: read credentials: %w", err)
		}
		conf, err := google.JWTConfigFromJSON(data, calendar.CalendarScope)
		if err != nil {
			return nil, fmt.Errorf("gcal: parse credentials: %w", err)
		}
		return conf.Client(ctx), nil
	}
	if creds.Email == "" || creds.PrivateKey == "" {
		return nil, errors.New("gcal: no credentials configured")
	}
	conf := &jwt.Config{
		Email: creds.Email,
		// Keys passed through env files usually carry literal "\n".
		PrivateKey: []byte(strings.ReplaceAll(creds.PrivateKey, `\n`, "\n")),
		Scopes:     []string{calendar.CalendarScope},
		TokenURL:   google.JWTTokenURL,
	}
	return conf.Client(ctx), nil
}

// ListCalendars returns the ids of every calendar in the account's list.
func (c *Client) ListCalendars(ctx context.Context) ([]string, error) {
	var ids []string
	err := c.svc.CalendarList.List().Context(ctx).Pages(ctx, func(page *calendar.CalendarList) error {
		for _, item := range page.Items {
			if item.Id != "" {
				ids = append(ids, item.Id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gcal: list calendars: %w", mapError(err))
	}
	return ids, nil
}

// CreateCalendar creates a secondary calendar and returns its id.
func (c *Client) CreateCalendar(ctx context.Context, summary, timeZone string) (string, error) {
	cal, err := c.svc.Calendars.Insert(&calendar.Calendar{
		Summary:  summary,
		TimeZone: timeZone,
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gcal: create calendar: %w", mapError(err))
	}
	if cal.Id == "" {
		return "", errors.New("gcal: create calendar: empty id in response")
	}
	return cal.Id, nil
}

func (c *Client) DeleteCalendar(ctx context.Context, calendarID string) error {
	if err := c.svc.Calendars.Delete(calendarID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gcal: delete calendar: %w", mapError(err))
	}
	return nil
}

// ShareCalendar grants ownerEmail the owner role, so the calendar can be
// shared further from a personal account.
func (c *Client) ShareCalendar(ctx context.Context, calendarID, ownerEmail string) error {
	_, err := c.svc.Acl.Insert(calendarID, &calendar.AclRule{
		Role: "owner",
		Scope: &calendar.AclRuleScope{
			Type:  "user",
			Value: ownerEmail,
		},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gcal: share calendar: %w", mapError(err))
	}
	return nil
}

func (c *Client) InsertEvent(ctx context.Context, calendarID string, body model.RequestBody) error {
	_, err := c.svc.Events.Insert(calendarID, toEvent(body)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gcal: insert event %s: %w", body.ID, mapError(err))
	}
	return nil
}

func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := c.svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gcal: delete event %s: %w", eventID, mapError(err))
	}
	return nil
}

func toEvent(body model.RequestBody) *calendar.Event {
	return &calendar.Event{
		Id:          body.ID,
		Summary:     body.Summary,
		Description: body.Description,
		Start:       toEventDateTime(body.Start),
		End:         toEventDateTime(body.End),
	}
}

func toEventDateTime(t model.EventTime) *calendar.EventDateTime {
	return &calendar.EventDateTime{
		DateTime: t.DateTime,
		Date:     t.Date,
		TimeZone: t.TimeZone,
	}
}

// mapError turns API status codes the driver cares about into sentinels,
// keeping the original error in the chain.
func mapError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch gerr.Code {
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	case http.StatusConflict:
		return fmt.Errorf("%w: %w", apperr.ErrAlreadyExists, err)
	default:
		return err
	}
}
