// Package gmail adapts the Gmail API to the handful of calls the sync
// engine needs: candidate listing, payload extraction, and the history
// cursor.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	gmailapi "google.golang.org/api/gmail/v1"
)

const (
	// Scope is the OAuth scope the client needs. Sync only reads mail, so
	// read-only access is enough.
	Scope = gmailapi.GmailReadonlyScope

	userSelf = "me"

	// candidateQuery is the fixed disjunction of heuristics for messages
	// that plausibly carry calendar data: an ics attachment, an
	// invitation-like subject, or an inline text/calendar body.
	candidateQuery = `filename:ics OR subject:(invite OR invitation) OR "text/calendar"`

	// maxCandidates bounds a full sync pass to one provider page.
	maxCandidates = 100

	// historyTypeMessageAdded is the only change kind sync cares about.
	historyTypeMessageAdded = "messageAdded"

	defaultTimeout = 30 * time.Second
)

// ErrCursorExpired means the stored history cursor is too old for the
// provider to diff against and the caller must fall back to a full pass.
var ErrCursorExpired = errors.New("history cursor expired")

// Client wraps an authenticated Gmail service for one user.
type Client struct {
	svc *gmailapi.Service
}

// NewClient builds a Client on top of an authenticated HTTP client. A
// request timeout is applied unless the caller already set one.
func NewClient(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	if httpClient.Timeout == 0 {
		httpClient.Timeout = defaultTimeout
	}

	all := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)

	svc, err := gmailapi.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &Client{svc: svc}, nil
}

// ListCandidates returns ids of messages matching the calendar heuristics,
// scoped to the given label filters, at most one page worth.
func (c *Client) ListCandidates(ctx context.Context, labelFilters []string) ([]string, error) {
	call := c.svc.Users.Messages.List(userSelf).
		Q(candidateQuery).
		MaxResults(maxCandidates).
		Context(ctx)

	if len(labelFilters) > 0 {
		call = call.LabelIds(labelFilters...)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		ids = append(ids, msg.Id)
	}

	return ids, nil
}

// MessagePayloads fetches a message and extracts every calendar document it
// carries, inline or attached. Attachment bodies arrive base64 transport
// encoded and are decoded here.
func (c *Client) MessagePayloads(ctx context.Context, messageID string) ([][]byte, error) {
	msg, err := c.svc.Users.Messages.Get(userSelf, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}

	if msg.Payload == nil {
		return nil, nil
	}

	var payloads [][]byte

	var walk func(part *gmailapi.MessagePart) error
	walk = func(part *gmailapi.MessagePart) error {
		if part == nil {
			return nil
		}

		if isCalendarPart(part) && part.Body != nil {
			switch {
			case part.Body.Data != "":
				data, err := decodeBody(part.Body.Data)
				if err != nil {
					return fmt.Errorf("decode inline payload: %w", err)
				}

				payloads = append(payloads, data)
			case part.Body.AttachmentId != "":
				data, err := c.getAttachment(ctx, messageID, part.Body.AttachmentId)
				if err != nil {
					return err
				}

				payloads = append(payloads, data)
			}
		}

		for _, child := range part.Parts {
			if err := walk(child); err != nil {
				return err
			}
		}

		return nil
	}

	if err := walk(msg.Payload); err != nil {
		return nil, err
	}

	return payloads, nil
}

// ChangesSince lists message ids added after the given cursor and returns
// the cursor to store for the next pass. It reports ErrCursorExpired when
// the provider no longer remembers the cursor position.
func (c *Client) ChangesSince(ctx context.Context, cursor string) ([]string, string, error) {
	start, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, "", fmt.Errorf("malformed cursor %q: %w", cursor, err)
	}

	var (
		ids       []string
		seen      = make(map[string]struct{})
		latest    = start
		pageToken string
	)

	for {
		call := c.svc.Users.History.List(userSelf).
			StartHistoryId(start).
			HistoryTypes(historyTypeMessageAdded).
			Context(ctx)

		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
				return nil, "", ErrCursorExpired
			}

			return nil, "", fmt.Errorf("list history: %w", err)
		}

		if resp.HistoryId > latest {
			latest = resp.HistoryId
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil {
					continue
				}

				if _, dup := seen[added.Message.Id]; dup {
					continue
				}

				seen[added.Message.Id] = struct{}{}
				ids = append(ids, added.Message.Id)
			}
		}

		if resp.NextPageToken == "" {
			break
		}

		pageToken = resp.NextPageToken
	}

	return ids, strconv.FormatUint(latest, 10), nil
}

// CurrentCursor reads the mailbox's present history position. A full sync
// stores it so the next incremental pass diffs from "now".
func (c *Client) CurrentCursor(ctx context.Context) (string, error) {
	profile, err := c.svc.Users.GetProfile(userSelf).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}

	return strconv.FormatUint(profile.HistoryId, 10), nil
}

func (c *Client) getAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	body, err := c.svc.Users.Messages.Attachments.Get(userSelf, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}

	data, err := decodeBody(body.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}

	return data, nil
}

// isCalendarPart matches by declared content type first, filename second.
func isCalendarPart(part *gmailapi.MessagePart) bool {
	mime := strings.ToLower(part.MimeType)
	if strings.HasPrefix(mime, "text/calendar") || mime == "application/ics" {
		return true
	}

	return strings.HasSuffix(strings.ToLower(part.Filename), ".ics")
}

// decodeBody handles both padded and unpadded URL-safe base64, which the
// provider mixes freely.
func decodeBody(data string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b, nil
	}

	return base64.RawURLEncoding.DecodeString(data)
}
