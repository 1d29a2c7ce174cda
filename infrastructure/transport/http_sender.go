package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const DefaultTimeout = 10 * time.Second

type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPSender posts payloads as JSON to {BaseURL}/messages.
type HTTPSender struct {
	client  *fasthttp.Client
	url     string
	token   string
	timeout time.Duration
}

func NewHTTPSender(cfg HTTPConfig) *HTTPSender {
	return newHTTPSender(cfg, &fasthttp.Client{
		Name:                "az-recruit",
		MaxConnsPerHost:     64,
		MaxIdleConnDuration: 30 * time.Second,
	})
}

func newHTTPSender(cfg HTTPConfig, client *fasthttp.Client) *HTTPSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSender{
		client:  client,
		url:     strings.TrimRight(cfg.BaseURL, "/") + "/messages",
		token:   cfg.Token,
		timeout: timeout,
	}
}

type sendRequest struct {
	To string `json:"to"`
	Payload
}

func (s *HTTPSender) Send(ctx context.Context, phone string, payload Payload) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}
	body, err := json.Marshal(sendRequest{To: phone, Payload: payload})
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if s.token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+s.token)
	}
	req.SetBody(body)

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.client.DoDeadline(req, resp, deadline); err != nil {
		return SendResult{}, fmt.Errorf("send to %s: %w", phone, err)
	}

	status := resp.StatusCode()
	if status >= 500 {
		return SendResult{}, fmt.Errorf("send to %s: status=%d body=%s", phone, status, truncate(resp.Body(), 512))
	}

	var result SendResult
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &result); err != nil {
			return SendResult{}, fmt.Errorf("send to %s: invalid receipt: %w", phone, err)
		}
	}
	if status >= 400 {
		logrus.Warnf("[TRANSPORT] Send to %s rejected: status=%d", phone, status)
		result.Accepted = false
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
