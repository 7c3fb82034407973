package crm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// searchPageSize is the page size requested from the segment search endpoint.
const searchPageSize = 100

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	// RPS and Burst throttle outbound calls; RPS <= 0 disables throttling.
	RPS   float64
	Burst int
}

// HTTPClient implements Client over the CRM JSON REST API.
type HTTPClient struct {
	rc      *resty.Client
	limiter *rate.Limiter
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds an HTTPClient. Retries are left to the caller's
// retry policy, so resty's own retry loop stays disabled.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.AccessToken != "" {
		rc.SetAuthToken(cfg.AccessToken)
	}

	var lim *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &HTTPClient{rc: rc, limiter: lim}
}

type apiError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

type apiErrors struct {
	Errors []apiError `json:"errors"`
}

func (a *apiErrors) message() string {
	if a == nil || len(a.Errors) == 0 {
		return ""
	}
	e := a.Errors[0]
	if e.Detail != "" {
		return e.Detail
	}
	return e.Code
}

// request waits for the limiter and returns a request bound to ctx.
func (c *HTTPClient) request(ctx context.Context) (*resty.Request, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindNetwork, Message: "rate limiter wait", Err: err}
		}
	}
	return c.rc.R().SetContext(ctx).SetError(&apiErrors{}), nil
}

// check converts transport failures and non-2xx responses into *Error.
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return &Error{Kind: KindNetwork, Message: op + ": " + err.Error(), Err: err}
	}
	if !resp.IsError() {
		return nil
	}
	status := resp.StatusCode()
	msg := ""
	if ae, ok := resp.Error().(*apiErrors); ok {
		msg = ae.message()
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	log.Debug().
		Str("op", op).
		Int("status", status).
		Str("detail", msg).
		Msg("crm request failed")
	return &Error{Kind: KindForStatus(status), Status: status, Message: op + ": " + msg}
}

// GetCustomer implements Client.
func (c *HTTPClient) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out struct {
		Customer *Customer `json:"customer"`
	}
	resp, err := req.
		SetPathParam("id", customerID).
		SetResult(&out).
		Get("/v2/customers/{id}")
	if err := check("get customer", resp, err); err != nil {
		return nil, err
	}
	if out.Customer == nil {
		return nil, NewError(KindNotFound, http.StatusNotFound, "get customer: empty response")
	}
	return out.Customer, nil
}

type searchRequest struct {
	SegmentID string `json:"segment_id"`
	Cursor    string `json:"cursor,omitempty"`
	Limit     int    `json:"limit"`
}

type searchResponse struct {
	Customers []struct {
		ID string `json:"id"`
	} `json:"customers"`
	Cursor string `json:"cursor"`
}

// SearchCustomersBySegment implements Client. It follows the cursor until
// the CRM stops returning one.
func (c *HTTPClient) SearchCustomersBySegment(ctx context.Context, segmentID string) ([]string, error) {
	ids := []string{}
	cursor := ""
	for {
		req, err := c.request(ctx)
		if err != nil {
			return nil, err
		}
		var page searchResponse
		resp, err := req.
			SetBody(searchRequest{SegmentID: segmentID, Cursor: cursor, Limit: searchPageSize}).
			SetResult(&page).
			Post("/v2/customers/search")
		if err := check("search customers", resp, err); err != nil {
			return nil, err
		}
		for _, cu := range page.Customers {
			if cu.ID != "" {
				ids = append(ids, cu.ID)
			}
		}
		if page.Cursor == "" || page.Cursor == cursor {
			return ids, nil
		}
		cursor = page.Cursor
	}
}

// GetOrder implements Client.
func (c *HTTPClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out struct {
		Order *Order `json:"order"`
	}
	resp, err := req.
		SetPathParam("id", orderID).
		SetResult(&out).
		Get("/v2/orders/{id}")
	if err := check("get order", resp, err); err != nil {
		return nil, err
	}
	if out.Order == nil {
		return nil, NewError(KindNotFound, http.StatusNotFound, "get order: empty response")
	}
	return out.Order, nil
}

// VerifyCheckinOrder implements Client by fetching the order and matching
// its line items locally.
func (c *HTTPClient) VerifyCheckinOrder(ctx context.Context, orderID, itemID, variationID string) (*OrderVerification, error) {
	order, err := c.GetOrder(ctx, orderID)
	if err != nil {
		if IsNotFound(err) {
			return &OrderVerification{Valid: false, Reason: "Order not found"}, nil
		}
		return nil, err
	}
	if !MatchCheckinItem(order, itemID, variationID) {
		return &OrderVerification{Valid: false, Order: order, Reason: ReasonMissingCheckinItem}, nil
	}
	return &OrderVerification{Valid: true, Order: order}, nil
}

// RecordVisit implements Client.
func (c *HTTPClient) RecordVisit(ctx context.Context, v Visit) error {
	if v.CustomerID == "" {
		return fmt.Errorf("record visit: customer id is required")
	}
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.
		SetBody(map[string]any{"visit": v}).
		Post("/v2/visits")
	return check("record visit", resp, err)
}
