package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	TopicBookAdded  = "book_added"
	TopicLateReturn = "late_return"
)

// Ntfy publishes catalog and circulation events to ntfy topics under baseURL.
type Ntfy struct {
	baseURL string
	enabled bool
	client  *http.Client
}

func NewNtfy(enableNotifications bool, notificationsBaseURL string, client *http.Client) *Ntfy {
	if client == nil {
		client = &http.Client{}
	}
	return &Ntfy{
		baseURL: strings.TrimRight(notificationsBaseURL, "/"),
		enabled: enableNotifications,
		client:  client,
	}
}

func (ntf *Ntfy) BookAdded(ctx context.Context, title string, copies int) error {
	return ntf.publish(ctx, TopicBookAdded, fmt.Sprintf("New book added to the catalog:\nTitle: %s\nCopies: %d", title, copies))
}

func (ntf *Ntfy) LateReturn(ctx context.Context, patronID, title string, daysLate int, fee decimal.Decimal) error {
	return ntf.publish(ctx, TopicLateReturn, fmt.Sprintf("Late return:\nPatron: %s\nTitle: %s\nDays late: %d\nLate fee: $%s", patronID, title, daysLate, fee.StringFixed(2)))
}

/* Posts the message to the topic. Does nothing when notifications are disabled. */
func (ntf *Ntfy) publish(ctx context.Context, topic, message string) error {
	if !ntf.enabled {
		return nil
	}

	url := ntf.baseURL + "/" + topic
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("error delivering message to topic (%s): %w", url, err)
	}

	resp, err := ntf.client.Do(req)
	if err != nil {
		return fmt.Errorf("error delivering message to topic (%s): %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("error delivering message to topic (%s): unexpected status %d", url, resp.StatusCode)
	}
	return nil
}
