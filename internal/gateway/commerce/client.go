// Package commerce is the client for the commerce platform's storefront and
// admin GraphQL APIs.
package commerce

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain"
	"storefront/internal/gateway"
	"storefront/internal/metrics"
)

// Config configures the commerce client.
type Config struct {
	StoreURL        string
	APIVersion      string
	StorefrontToken string
	AdminToken      string
	Timeout         time.Duration
	MaxAttempts     int
	HTTPClient      *http.Client
	Metrics         *metrics.Metrics
	Logger          *log.Logger
}

// Client talks to the commerce platform.
type Client struct {
	storefront *gateway.Client
	admin      *gateway.Client
}

// New builds a Client.
func New(cfg Config) *Client {
	version := cfg.APIVersion
	if version == "" {
		version = "2024-10"
	}
	base := strings.TrimRight(cfg.StoreURL, "/")
	return &Client{
		storefront: gateway.New(gateway.Options{
			Name:        "commerce",
			BaseURL:     base + "/api/" + version,
			Timeout:     cfg.Timeout,
			MaxAttempts: cfg.MaxAttempts,
			Headers:     map[string]string{"X-Shopify-Storefront-Access-Token": cfg.StorefrontToken},
			HTTPClient:  cfg.HTTPClient,
			Metrics:     cfg.Metrics,
			Logger:      cfg.Logger,
		}),
		admin: gateway.New(gateway.Options{
			Name:        "commerce_admin",
			BaseURL:     base + "/admin/api/" + version,
			Timeout:     cfg.Timeout,
			MaxAttempts: cfg.MaxAttempts,
			Headers:     map[string]string{"X-Shopify-Access-Token": cfg.AdminToken},
			HTTPClient:  cfg.HTTPClient,
			Metrics:     cfg.Metrics,
			Logger:      cfg.Logger,
		}),
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// transient reports platform-side conditions that say nothing about the
// request itself.
func (e graphqlError) transient() bool {
	switch e.Extensions.Code {
	case "THROTTLED", "INTERNAL_SERVER_ERROR":
		return true
	}
	return false
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

type userError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code"`
}

// query runs a GraphQL document and decodes data into out. GraphQL-level
// errors are structured platform errors and surface as rejections, except
// throttling and internal errors which are upstream failures.
func query(ctx context.Context, gw *gateway.Client, op, document string, vars map[string]any, retry bool, out any) error {
	resp, err := gw.Do(ctx, gateway.Request{
		Op:    op,
		Path:  "/graphql.json",
		Body:  graphqlRequest{Query: document, Variables: vars},
		Retry: retry,
	})
	if err != nil {
		return err
	}
	var envelope graphqlResponse
	if decodeErr := json.Unmarshal(resp.Body, &envelope); decodeErr != nil {
		if !resp.OK() {
			return domain.Rejected("commerce."+op, fmt.Sprintf("status %d", resp.Status))
		}
		return domain.Upstream("commerce."+op, fmt.Errorf("decode response: %w", decodeErr))
	}
	if len(envelope.Errors) > 0 {
		for _, e := range envelope.Errors {
			if e.transient() {
				return domain.Upstream("commerce."+op, fmt.Errorf("%s", joinMessages(envelope.Errors)))
			}
		}
		return domain.Rejected("commerce."+op, joinMessages(envelope.Errors))
	}
	if !resp.OK() {
		return domain.Rejected("commerce."+op, fmt.Sprintf("status %d", resp.Status))
	}
	if out == nil {
		return nil
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return domain.Upstream("commerce."+op, fmt.Errorf("response without data"))
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return domain.Upstream("commerce."+op, fmt.Errorf("decode data: %w", err))
	}
	return nil
}

func joinMessages(errs []graphqlError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Message != "" {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}

func userErrorsToErr(op string, errs []userError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return domain.Rejected("commerce."+op, strings.Join(msgs, "; "))
}
