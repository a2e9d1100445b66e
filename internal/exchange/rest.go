package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// RESTClient speaks a signed JSON order API. Every request carries an
// HMAC-SHA256 signature over timestamp, method, path and body, in the
// header scheme most derivatives venues use.
type RESTClient struct {
	baseURL    string
	accessKey  string
	secretKey  string
	passphrase string
	http       *http.Client
}

// NewRESTClient builds a client for the venue at baseURL.
func NewRESTClient(baseURL, accessKey, secretKey, passphrase string) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		accessKey:  accessKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
}

// wireOrder is the venue's order representation.
type wireOrder struct {
	ClientOrderID string          `json:"client_order_id"`
	ExchangeID    string          `json:"exchange_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	Fee           decimal.Decimal `json:"fee"`
	FilledAtMS    int64           `json:"filled_at_ms"`
}

func (w wireOrder) ack(found bool) OrderAck {
	ack := OrderAck{
		ClientOrderID: w.ClientOrderID,
		ExchangeID:    w.ExchangeID,
		Symbol:        w.Symbol,
		Qty:           w.Qty,
		Price:         w.Price,
		Fee:           w.Fee,
		Found:         found,
	}
	if w.FilledAtMS > 0 {
		ack.At = time.UnixMilli(w.FilledAtMS).UTC()
	}
	return ack
}

// PlaceOrder implements Client. A transport failure after the request
// left the process is ambiguous: the venue may have accepted the order,
// so the caller must query before retrying.
func (c *RESTClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	body, err := json.Marshal(map[string]any{
		"client_order_id": req.ClientOrderID,
		"symbol":          req.Symbol,
		"side":            string(req.Side),
		"qty":             req.Qty,
		"price":           req.Price,
		"reduce_only":     req.ReduceOnly,
	})
	if err != nil {
		return OrderAck{}, err
	}

	resp, raw, err := c.do(ctx, http.MethodPost, "/api/v1/orders", body)
	if err != nil {
		return OrderAck{}, Ambiguous(fmt.Errorf("place order: %w", err))
	}
	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return OrderAck{}, err
	}

	var w wireOrder
	if err := json.Unmarshal(raw, &w); err != nil {
		// The venue answered 2xx; the order exists even if we cannot
		// read the body.
		return OrderAck{}, Ambiguous(fmt.Errorf("place order: decoding response: %w", err))
	}
	return w.ack(true), nil
}

// CancelOrder implements Client.
func (c *RESTClient) CancelOrder(ctx context.Context, clientOrderID, symbol string) error {
	path := "/api/v1/orders/" + url.PathEscape(clientOrderID) + "?symbol=" + url.QueryEscape(symbol)
	resp, raw, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return Transient(fmt.Errorf("cancel order: %w", err))
	}
	return classifyStatus(resp.StatusCode, raw)
}

// QueryOrder implements Client. A 404 means the venue never saw the
// token, which is a definitive answer, not an error.
func (c *RESTClient) QueryOrder(ctx context.Context, clientOrderID, symbol string) (OrderAck, error) {
	path := "/api/v1/orders/" + url.PathEscape(clientOrderID) + "?symbol=" + url.QueryEscape(symbol)
	resp, raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return OrderAck{}, Transient(fmt.Errorf("query order: %w", err))
	}
	if resp.StatusCode == http.StatusNotFound {
		return OrderAck{Found: false}, nil
	}
	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return OrderAck{}, err
	}

	var w wireOrder
	if err := json.Unmarshal(raw, &w); err != nil {
		return OrderAck{}, Transient(fmt.Errorf("query order: decoding response: %w", err))
	}
	return w.ack(true), nil
}

// do sends one signed request and returns the response with its body
// fully read.
func (c *RESTClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ACCESS-KEY", c.accessKey)
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	req.Header.Set("ACCESS-PASSPHRASE", c.passphrase)
	req.Header.Set("ACCESS-SIGN", c.sign(ts, method, path, body))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, err
	}
	return resp, raw, nil
}

// sign computes base64(HMAC-SHA256(ts + method + path + body)).
func (c *RESTClient) sign(ts, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(ts))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// classifyStatus maps an HTTP status to the retry taxonomy: throttling
// and server faults are transient, everything else non-2xx is final.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return Transient(fmt.Errorf("venue returned %d: %s", status, body))
	default:
		return fmt.Errorf("venue returned %d: %s", status, body)
	}
}
