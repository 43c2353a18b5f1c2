package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"
)

// AlertPayload is the data passed to sinks for one fired alert.
type AlertPayload struct {
	AlertID   string         `json:"alertId"`
	RuleID    string         `json:"ruleId"`
	Kind      string         `json:"kind"`
	Mode      string         `json:"mode"`
	Category  string         `json:"category,omitempty"`
	Side      string         `json:"side,omitempty"`
	TxHash    string         `json:"txHash,omitempty"`
	CheckedAt int64          `json:"checkedAt"`
	Args      map[string]any `json:"args"`
}

type Sender interface {
	Send(ctx context.Context, payload AlertPayload) error
}

// StatusError reports a non-2xx sink response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sink http status %d", e.Code)
}

type httpSender struct {
	url     string
	method  string
	render  *template.Template
	client  *http.Client
	headers map[string]string
	body    func(text string, p AlertPayload) any
}

func textBody(text string, _ AlertPayload) any {
	return map[string]string{"text": text}
}

// webhookBody carries the full alert next to the rendered text.
func webhookBody(text string, p AlertPayload) any {
	return struct {
		Text  string       `json:"text"`
		Alert AlertPayload `json:"alert"`
	}{text, p}
}

// NewWebhookSender builds a generic HTTP sink.
func NewWebhookSender(url, method, tmpl string, headers map[string]string) (Sender, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	if method == "" {
		method = http.MethodPost
	}
	t, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	return &httpSender{
		url:     url,
		method:  strings.ToUpper(method),
		render:  t,
		client:  defaultClient(),
		headers: headers,
		body:    webhookBody,
	}, nil
}

func newTextSender(url, tmpl string) (Sender, error) {
	s, err := NewWebhookSender(url, http.MethodPost, tmpl, map[string]string{
		"Content-Type": "application/json",
	})
	if err != nil {
		return nil, err
	}
	s.(*httpSender).body = textBody
	return s, nil
}

// NewSlackSender builds a Slack-compatible webhook sink.
func NewSlackSender(url, tmpl string) (Sender, error) {
	return newTextSender(url, tmpl)
}

// NewTeamsSender builds a Teams-compatible webhook sink.
func NewTeamsSender(url, tmpl string) (Sender, error) {
	// Teams accepts simple {text: "..."} payloads.
	return newTextSender(url, tmpl)
}

func (s *httpSender) Send(ctx context.Context, payload AlertPayload) error {
	bodyStr, err := executeTemplate(s.render, payload)
	if err != nil {
		return err
	}
	reqBody, err := json.Marshal(s.body(bodyStr, payload))
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func parseTemplate(tmpl string) (*template.Template, error) {
	if tmpl == "" {
		tmpl = "ALERT {{.RuleID}} {{.Kind}} {{.Mode}}{{if .TxHash}} {{.TxHash}}{{end}}"
	}
	funcs := template.FuncMap{
		"pretty_json": func(v any) string {
			out, _ := json.MarshalIndent(v, "", "  ")
			return string(out)
		},
		"short_addr": func(addr string) string {
			if len(addr) <= 10 {
				return addr
			}
			return addr[:6] + "..." + addr[len(addr)-4:]
		},
		"side": func(side string) string {
			if side == "" {
				return "-"
			}
			return strings.ToUpper(side[:1]) + side[1:]
		},
	}
	return template.New("msg").Funcs(funcs).Parse(tmpl)
}

func executeTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

func defaultClient() *http.Client {
	return &http.Client{
		Timeout: 8 * time.Second,
	}
}

