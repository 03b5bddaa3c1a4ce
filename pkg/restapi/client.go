// Package restapi is the REST collaborator: a fasthttp client for the chat
// server's JSON API. Every response is wrapped in a {code, message, data}
// envelope; list payloads are {items, pagination}.
package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

var ErrNotFound = errors.New("not found")

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == fasthttp.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

type Options struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	MaxResponseSize int
}

type Client struct {
	http    *fasthttp.Client
	base    string
	token   string
	timeout time.Duration
}

func New(o Options) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	return &Client{
		http: &fasthttp.Client{
			Name:                "chatsync",
			MaxResponseBodySize: o.MaxResponseSize,
			ReadTimeout:         o.Timeout,
			WriteTimeout:        o.Timeout,
		},
		base:    o.BaseURL,
		token:   o.Token,
		timeout: o.Timeout,
	}
}

func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

// do performs one call. body, when non-nil, is sent as JSON; the envelope's
// data is decoded into out when out is non-nil. Cancelling ctx returns at
// once; the abandoned request runs on until its deadline in the background.
func (c *Client) do(ctx context.Context, method, path string, args *fasthttp.Args, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	owned := true
	defer func() {
		if owned {
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
		}
	}()

	uri := c.base + path
	if args != nil && args.Len() > 0 {
		uri += "?" + args.String()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		buf := bytebufferpool.Get()
		defer bytebufferpool.Put(buf)
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(buf.B)
	}

	start := time.Now()
	done := make(chan error, 1)
	deadline := c.deadline(ctx)
	go func() {
		done <- c.http.DoDeadline(req, resp, deadline)
	}()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		// req and resp stay in use until DoDeadline returns
		owned = false
		go func() {
			<-done
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
		}()
		logger.Debug("api_call_abandoned", "method", method, "path", path, "error", ctx.Err())
		return fmt.Errorf("%s %s: %w", method, path, ctx.Err())
	}
	if err != nil {
		logger.Debug("api_call_failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	status := resp.StatusCode()
	logger.Debug("api_call", "method", method, "path", path, "status", status, "took", time.Since(start))

	var env models.APIResponse
	raw := resp.Body()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && status < 300 {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	if status < 200 || status >= 300 {
		return &APIError{Status: status, Code: env.Code, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s %s data: %w", method, path, err)
		}
	}
	return nil
}

func pageArgs(q models.PageQuery) *fasthttp.Args {
	args := &fasthttp.Args{}
	if q.Page > 0 {
		args.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		args.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Sort != "" {
		args.Set("sort", q.Sort)
	}
	return args
}

func chatPath(convID string, rest ...string) string {
	p := "/chats/" + url.PathEscape(convID)
	for _, r := range rest {
		p += r
	}
	return p
}
