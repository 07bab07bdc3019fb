package payment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/circulation-service/cmd/api/library"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPGateway talks to a remote payment service exposing POST /charges and POST /refunds.
type HTTPGateway struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPGateway(baseURL string, timeout time.Duration, client *http.Client) *HTTPGateway {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  client,
	}
}

type chargeRequest struct {
	PatronID string          `json:"patron_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type refundRequest struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
}

type gatewayResponse struct {
	TransactionID string `json:"transaction_id"`
	Success       bool   `json:"success"`
	Message       string `json:"message"`
}

func (g *HTTPGateway) ProcessPayment(ctx context.Context, patronID string, amount decimal.Decimal) (library.PaymentReceipt, error) {
	return g.post(ctx, "/charges", chargeRequest{PatronID: patronID, Amount: amount})
}

func (g *HTTPGateway) RefundPayment(ctx context.Context, reference string, amount decimal.Decimal) (library.PaymentReceipt, error) {
	return g.post(ctx, "/refunds", refundRequest{Reference: reference, Amount: amount})
}

/*
Sends the request and decodes the receipt. A 4xx answer is a rejection carrying the
gateway's message; transport failures and 5xx answers mean the gateway is unreachable.
*/
func (g *HTTPGateway) post(ctx context.Context, path string, payload any) (library.PaymentReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return library.PaymentReceipt{}, fmt.Errorf("encoding %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return library.PaymentReceipt{}, fmt.Errorf("%w: %w", library.ErrPaymentUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return library.PaymentReceipt{}, fmt.Errorf("%w: %w", library.ErrPaymentUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return library.PaymentReceipt{}, fmt.Errorf("%w: reading response: %w", library.ErrPaymentUnreachable, err)
	}

	var decoded gatewayResponse
	decodeErr := json.Unmarshal(raw, &decoded)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return library.PaymentReceipt{}, fmt.Errorf("%w: status %d", library.ErrPaymentUnreachable, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		msg := decoded.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return library.PaymentReceipt{}, fmt.Errorf("%w: %s", library.ErrPaymentRejected, msg)
	case decodeErr != nil:
		return library.PaymentReceipt{}, fmt.Errorf("%w: decoding response: %w", library.ErrPaymentUnreachable, decodeErr)
	}

	return library.PaymentReceipt{
		TransactionID: decoded.TransactionID,
		Success:       decoded.Success,
		Message:       decoded.Message,
	}, nil
}
