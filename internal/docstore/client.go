package docstore

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

	"github.com/fentz26/todomaster/internal/models"
	"github.com/fentz26/todomaster/internal/taskstore"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the document store API. It implements
// taskstore.Backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no overall timeout; watch requests are bounded by their context.
	streamClient *http.Client
}

var _ taskstore.Backend = (*Client)(nil)

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
		streamClient: &http.Client{},
	}
}

// Create implements taskstore.Backend.
func (c *Client) Create(ctx context.Context, doc taskstore.Document) (string, error) {
	req := CreateRequest{Text: doc.Text, Completed: doc.Completed}
	if !doc.CreatedAt.IsZero() {
		ms := doc.CreatedAt.UnixMilli()
		req.CreatedAt = &ms
	}

	var created Document
	if err := c.do(ctx, http.MethodPost, "/tasks", req, &created); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return created.ID, nil
}

// Update implements taskstore.Backend.
func (c *Client) Update(ctx context.Context, id string, fields taskstore.Fields) error {
	req := PatchRequest{Text: fields.Text, Completed: fields.Completed}
	if err := c.do(ctx, http.MethodPatch, taskPath(id), req, nil); err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	return nil
}

// Delete implements taskstore.Backend.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, taskPath(id), nil, nil); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// Watch implements taskstore.Backend over the newline-delimited JSON stream
// of GET /tasks/watch.
func (c *Client) Watch(ctx context.Context, deliver func([]models.Task)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/watch", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("watch tasks: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return fmt.Errorf("watch tasks: %w", err)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var docs []Document
		if err := dec.Decode(&docs); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("watch tasks: %w", err)
		}
		deliver(tasksFrom(docs))
	}
}

// ListTasks fetches every task, oldest first.
func (c *Client) ListTasks(ctx context.Context) ([]models.Task, error) {
	var docs []Document
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, &docs); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasksFrom(docs), nil
}

// Changes fetches the most recent change records.
func (c *Client) Changes(ctx context.Context, limit int) ([]models.ChangeRecord, error) {
	path := "/changes"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var recs []models.ChangeRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &recs); err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	return recs, nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}
	return health.OK, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// checkResponse maps error statuses back to the sentinels the server mapped them from.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidDocument, msg)
	default:
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
}

func taskPath(id string) string {
	return "/tasks/" + url.PathEscape(id)
}
