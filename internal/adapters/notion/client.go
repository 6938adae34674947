// Package notion — адаптер внешней базы знаний: REST-клиент страниц в духе
// Notion API, маппер дерева свойств и реализация kb.Gateway поверх них.
// Клиент ограничен токен-бакетом (3 rps по умолчанию), уважает Retry-After
// и классифицирует ответы через internal/shared/fault; сам шлюз не ретраит —
// повторы живут в троттлере и офлайн-очереди.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"

	"second-brain/internal/infra/throttle"
	"second-brain/internal/shared/fault"
)

const (
	defaultBaseURL = "https://api.notion.com"
	apiVersion     = "2022-06-28"

	// maxBodyBytes — потолок тела ответа; всё сверх него обрезается.
	maxBodyBytes = 4 << 20

	requestTimeout = 30 * time.Second

	// queryPageSize — размер страницы выборки в запросах к базе.
	queryPageSize = 100
)

// rateLimitedError несёт серверную паузу из заголовка Retry-After.
type rateLimitedError struct {
	after time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.after)
}

// retryAfterExtractor распознаёт rateLimitedError для троттлера.
func retryAfterExtractor(err error) (time.Duration, bool) {
	var rl *rateLimitedError
	if errors.As(err, &rl) {
		return rl.after, true
	}
	return 0, false
}

// Page — страница базы знаний в сыром виде: идентификатор и дерево свойств.
type Page struct {
	ID             string                     `json:"id"`
	CreatedTime    time.Time                  `json:"created_time"`
	LastEditedTime time.Time                  `json:"last_edited_time"`
	Properties     map[string]json.RawMessage `json:"properties"`
}

// Client — HTTP-клиент страниц базы знаний.
type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	throttler *throttle.Throttler
}

// ClientOption настраивает клиент при создании.
type ClientOption func(*Client)

// WithBaseURL переопределяет адрес API (тесты на httptest).
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient подменяет транспорт.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient создаёт клиент с лимитом rps и тремя ретраями временных сбоев.
func NewClient(apiKey string, rps int, opts ...ClientOption) *Client {
	c := &Client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		throttler: throttle.New(rps,
			throttle.WithMaxRetries(3),
			throttle.WithWaitExtractors(retryAfterExtractor),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreatePage создаёт страницу в базе dbID со свойствами props.
func (c *Client) CreatePage(ctx context.Context, dbID string, props map[string]any) (Page, error) {
	payload := map[string]any{
		"parent":     map[string]any{"database_id": dbID},
		"properties": props,
	}
	var page Page
	if err := c.do(ctx, http.MethodPost, "/v1/pages", payload, &page); err != nil {
		return Page{}, errors.Wrap(err, "notion: create page")
	}
	return page, nil
}

// GetPage читает одну страницу по идентификатору.
func (c *Client) GetPage(ctx context.Context, pageID string) (Page, error) {
	var page Page
	if err := c.do(ctx, http.MethodGet, "/v1/pages/"+pageID, nil, &page); err != nil {
		return Page{}, errors.Wrap(err, "notion: get page")
	}
	return page, nil
}

// UpdatePage частично обновляет свойства страницы.
func (c *Client) UpdatePage(ctx context.Context, pageID string, props map[string]any) error {
	payload := map[string]any{"properties": props}
	if err := c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, payload, nil); err != nil {
		return errors.Wrap(err, "notion: update page")
	}
	return nil
}

// queryResponse — одна страница ответа выборки.
type queryResponse struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// QueryDatabase выполняет выборку с фильтром и листает курсор до конца либо
// до limit записей. limit <= 0 — без ограничения.
func (c *Client) QueryDatabase(ctx context.Context, dbID string, filter map[string]any, limit int) ([]Page, error) {
	var pages []Page
	cursor := ""

	for {
		payload := map[string]any{"page_size": queryPageSize}
		if filter != nil {
			payload["filter"] = filter
		}
		if cursor != "" {
			payload["start_cursor"] = cursor
		}

		var resp queryResponse
		if err := c.do(ctx, http.MethodPost, "/v1/databases/"+dbID+"/query", payload, &resp); err != nil {
			return nil, errors.Wrap(err, "notion: query database")
		}

		pages = append(pages, resp.Results...)
		if limit > 0 && len(pages) >= limit {
			return pages[:limit], nil
		}
		if !resp.HasMore || resp.NextCursor == "" {
			return pages, nil
		}
		cursor = resp.NextCursor
	}
}

// Ping проверяет доступность API лёгким запросом.
func (c *Client) Ping(ctx context.Context, anyDB string) error {
	_, err := c.QueryDatabase(ctx, anyDB, nil, 1)
	return err
}

// do выполняет один HTTP-запрос под троттлером и декодирует ответ в out.
func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fault.Wrap(err, fault.KindValidation, "marshal request")
		}
	}

	return c.throttler.Do(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fault.Wrap(err, fault.KindPermanent, "build request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Notion-Version", apiVersion)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fault.Wrap(err, fault.KindTransient, "http call")
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fault.Wrap(err, fault.KindTransient, "read response")
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
				return &rateLimitedError{after: after}
			}
			return fault.FromStatusErr(resp.StatusCode, string(data))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fault.FromStatusErr(resp.StatusCode, string(data))
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fault.Wrap(err, fault.KindValidation, "decode response")
		}
		return nil
	})
}

// parseRetryAfter разбирает заголовок Retry-After в секундах.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
