package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rl1809/table-order/internal/core/domain"
)

const maxErrorBody = 4 << 10

// StatusError is a non-2xx response other than a field validation failure.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// FieldError is an HTTP 422 response. Fields holds the first message the
// backend reported for each field.
type FieldError struct {
	Message string
	Fields  domain.ValidationErrors
}

func (e *FieldError) Error() string {
	if e.Message != "" {
		return "unprocessable entity: " + e.Message
	}
	return "unprocessable entity"
}

// Unwrap exposes the field map so callers can match domain.ValidationErrors.
func (e *FieldError) Unwrap() error {
	return e.Fields
}

// Client talks to the remote order service over JSON/HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewClientWithHTTP lets callers supply their own http.Client.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (c *Client) FetchMenus(ctx context.Context) ([]domain.Category, error) {
	var out []domain.Category
	if err := c.do(ctx, http.MethodGet, "/menus", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchMenu(ctx context.Context, id int64) (domain.MenuItem, error) {
	var out domain.MenuItem
	err := c.do(ctx, http.MethodGet, "/menus/"+strconv.FormatInt(id, 10), nil, nil, &out)
	return out, err
}

func (c *Client) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	var out domain.Order
	err := c.do(ctx, http.MethodPost, "/orders", nil, req, &out)
	return out, err
}

func (c *Client) GetOrder(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	var out domain.Order
	err := c.do(ctx, http.MethodGet, orderPath(id, ""), nil, nil, &out)
	return out, err
}

func (c *Client) CreatePayment(ctx context.Context, id domain.OrderID) (domain.Payment, error) {
	var out domain.Payment
	err := c.do(ctx, http.MethodPost, orderPath(id, "/payment"), nil, nil, &out)
	return out, err
}

func (c *Client) PayOrder(ctx context.Context, id domain.OrderID, req domain.PayOrderRequest) (domain.Order, error) {
	var out domain.Order
	err := c.do(ctx, http.MethodPost, orderPath(id, "/pay"), nil, req, &out)
	return out, err
}

func (c *Client) CancelOrder(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	var out domain.Order
	err := c.do(ctx, http.MethodPost, orderPath(id, "/cancel"), nil, nil, &out)
	return out, err
}

func (c *Client) CustomerHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.Order, error) {
	var out []domain.Order
	if err := c.do(ctx, http.MethodGet, "/orders/history", historyParams(q), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UnpaidHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.Order, error) {
	var out []domain.Order
	if err := c.do(ctx, http.MethodGet, "/orders/unpaid", historyParams(q), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func orderPath(id domain.OrderID, suffix string) string {
	return "/orders/" + url.PathEscape(id.String()) + suffix
}

func historyParams(q domain.HistoryQuery) url.Values {
	return url.Values{
		"table": {strconv.Itoa(q.TableNumber)},
		"token": {q.Token},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return decodeFieldError(resp.Body)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
		}
	}

	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if err := json.Unmarshal(unwrapData(raw), out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// unwrapData strips a {"data": ...} envelope if the backend uses one.
func unwrapData(raw []byte) []byte {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return raw
	}
	data, ok := envelope["data"]
	if !ok {
		return raw
	}
	for k := range envelope {
		switch k {
		case "data", "message", "meta", "links", "success":
		default:
			return raw
		}
	}
	return data
}

type errorBody struct {
	Message string                     `json:"message"`
	Error   string                     `json:"error"`
	Errors  map[string]json.RawMessage `json:"errors"`
}

func errorMessage(raw []byte) string {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

func decodeFieldError(r io.Reader) error {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return &FieldError{Message: strings.TrimSpace(string(raw)), Fields: domain.ValidationErrors{}}
	}

	fields := domain.ValidationErrors{}
	for field, value := range body.Errors {
		fields[field] = firstMessage(value)
	}
	return &FieldError{Message: body.Message, Fields: fields}
}

// firstMessage flattens a field error that may be a list of messages or a
// single value.
func firstMessage(raw json.RawMessage) string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) > 0 {
			return list[0]
		}
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}
