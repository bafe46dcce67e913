package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/failure"
	"github.com/rs/zerolog"
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 4 << 10

// TokenSource returns the bearer token for the current session. An empty token
// sends the request unauthenticated.
type TokenSource func(ctx context.Context) (string, error)

// HTTPConfig holds configuration for the REST adapter.
type HTTPConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPClient is a Client for the records REST API. Records are read with
// GET {base}/{kind}s/{id} and updated with PATCH on the same path.
type HTTPClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      TokenSource
	logger     zerolog.Logger
}

// NewHTTPClient creates an HTTPClient. When httpClient is nil a client using
// cfg.Timeout is created; a zero timeout leaves requests unbounded.
func NewHTTPClient(cfg *HTTPConfig, httpClient *http.Client, token TokenSource, logger zerolog.Logger) (*HTTPClient, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, errors.New("records base URL is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid records base URL %q: %w", cfg.BaseURL, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger.Info().Str("base_url", base.String()).Msg("Records HTTP client initialized.")
	return &HTTPClient{
		baseURL:    base,
		httpClient: httpClient,
		token:      token,
		logger:     logger.With().Str("component", "HTTPClient").Logger(),
	}, nil
}

func (c *HTTPClient) GetProject(ctx context.Context, id string) (Project, error) {
	return doJSON[Project](ctx, c, http.MethodGet, EntityID{Kind: KindProject, ID: id}, nil)
}

func (c *HTTPClient) GetPerson(ctx context.Context, id string) (Person, error) {
	return doJSON[Person](ctx, c, http.MethodGet, EntityID{Kind: KindPerson, ID: id}, nil)
}

func (c *HTTPClient) GetOrganisation(ctx context.Context, id string) (Organisation, error) {
	return doJSON[Organisation](ctx, c, http.MethodGet, EntityID{Kind: KindOrganisation, ID: id}, nil)
}

func (c *HTTPClient) UpdateProject(ctx context.Context, id string, patch Patch) (Project, error) {
	return doJSON[Project](ctx, c, http.MethodPatch, EntityID{Kind: KindProject, ID: id}, patch)
}

func (c *HTTPClient) UpdatePerson(ctx context.Context, id string, patch Patch) (Person, error) {
	return doJSON[Person](ctx, c, http.MethodPatch, EntityID{Kind: KindPerson, ID: id}, patch)
}

func (c *HTTPClient) UpdateOrganisation(ctx context.Context, id string, patch Patch) (Organisation, error) {
	return doJSON[Organisation](ctx, c, http.MethodPatch, EntityID{Kind: KindOrganisation, ID: id}, patch)
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) entityURL(id EntityID) string {
	u := *c.baseURL
	u.Path = u.Path + "/" + id.Kind.Collection() + "/" + url.PathEscape(id.ID)
	return u.String()
}

func doJSON[T any](ctx context.Context, c *HTTPClient, method string, id EntityID, body any) (T, error) {
	var zero T

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("failed to marshal %s body for %s: %w", method, id, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.entityURL(id), reader)
	if err != nil {
		return zero, fmt.Errorf("failed to build %s request for %s: %w", method, id, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return zero, fmt.Errorf("failed to read session token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("entity", id.String()).Str("method", method).Msg("Request did not reach the records API.")
		return zero, fmt.Errorf("%s %s: %w", method, id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := readStatusError(resp)
		c.logger.Warn().Int("status", resp.StatusCode).Str("entity", id.String()).Str("method", method).Msg("Records API returned a non-success status.")
		return zero, fmt.Errorf("%s %s: %w", method, id, statusErr)
	}

	var value T
	if err := json.NewDecoder(resp.Body).Decode(&value); err != nil {
		return zero, fmt.Errorf("failed to decode %s response for %s: %w", method, id, err)
	}
	return value, nil
}

// readStatusError builds a StatusError from a failed response. The message is
// taken from a JSON error body when there is one, otherwise the status text.
func readStatusError(resp *http.Response) *failure.StatusError {
	statusErr := &failure.StatusError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return statusErr
	}
	var payload struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) != nil {
		return statusErr
	}
	for _, m := range []string{payload.Message, payload.Detail, payload.Error} {
		if m != "" {
			statusErr.Message = m
			break
		}
	}
	return statusErr
}
