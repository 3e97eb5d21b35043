package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// EvolutionClient talks to an Evolution-API-compatible WhatsApp gateway.
// Authentication is a static apikey header; every call runs under the
// configured timeout on top of the caller's context.
type EvolutionClient struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

func NewEvolutionClient(baseURL, apiKey string, timeout time.Duration) *EvolutionClient {
	if timeout <= 0 {
		timeout = time.Second * 10
	}
	return &EvolutionClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type qrResponse struct {
	QRCode struct {
		Code   string `json:"code"`
		Base64 string `json:"base64"`
	} `json:"qrcode"`
	Code   string `json:"code"`
	Base64 string `json:"base64"`
}

func (q *qrResponse) value() string {
	for _, v := range []string{q.QRCode.Code, q.QRCode.Base64, q.Code, q.Base64} {
		if v != "" {
			return v
		}
	}
	return ""
}

type stateResponse struct {
	Instance struct {
		State       string `json:"state"`
		OwnerJID    string `json:"ownerJid"`
		ProfileName string `json:"profileName"`
	} `json:"instance"`
	State string `json:"state"`
}

type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	MessageID string `json:"messageId"`
}

func (c *EvolutionClient) CreateInstance(ctx context.Context, name string) (string, error) {
	payload := map[string]any{
		"instanceName": name,
		"qrcode":       true,
		"integration":  "WHATSAPP-BAILEYS",
	}
	var resp qrResponse
	if err := c.do(ctx, http.MethodPost, "/instance/create", payload, &resp); err != nil {
		return "", err
	}
	return resp.value(), nil
}

func (c *EvolutionClient) ConnectInstance(ctx context.Context, name string) (string, error) {
	var resp qrResponse
	if err := c.do(ctx, http.MethodGet, "/instance/connect/"+name, nil, &resp); err != nil {
		return "", err
	}
	return resp.value(), nil
}

func (c *EvolutionClient) ConnectionState(ctx context.Context, name string) (StateInfo, error) {
	var resp stateResponse
	if err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+name, nil, &resp); err != nil {
		return StateInfo{}, err
	}
	raw := resp.Instance.State
	if raw == "" {
		raw = resp.State
	}
	return StateInfo{
		State:       NormalizeState(raw),
		OwnerJID:    resp.Instance.OwnerJID,
		ProfileName: resp.Instance.ProfileName,
	}, nil
}

func (c *EvolutionClient) SendText(ctx context.Context, name, phone, text string) (string, error) {
	payload := map[string]any{
		"number": phone,
		"text":   text,
	}
	var resp sendTextResponse
	if err := c.do(ctx, http.MethodPost, "/message/sendText/"+name, payload, &resp); err != nil {
		return "", err
	}
	if resp.Key.ID != "" {
		return resp.Key.ID, nil
	}
	return resp.MessageID, nil
}

func (c *EvolutionClient) Logout(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/instance/logout/"+name, nil, nil)
}

func (c *EvolutionClient) DeleteInstance(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/instance/delete/"+name, nil, nil)
}

func (c *EvolutionClient) do(ctx context.Context, method, path string, payload, out any) error {
	op := method + " " + path

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return &Error{Kind: KindRejected, Op: op, Err: err}
		}
		body = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Kind: KindRejected, Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return &Error{Kind: KindTransient, Op: op, Err: fmt.Errorf("gateway http %d: %s", resp.StatusCode, excerpt(raw))}
	case resp.StatusCode >= http.StatusBadRequest:
		return &Error{Kind: KindRejected, Op: op, Err: fmt.Errorf("gateway http %d: %s", resp.StatusCode, excerpt(raw))}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Kind: KindTransient, Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

// NormalizeState maps the gateway's state strings onto the three states
// the bridge tracks. Unknown strings count as connecting since the
// gateway only reports them mid-pairing.
func NormalizeState(raw string) State {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch {
	case raw == "open" || strings.Contains(raw, "connected") || strings.Contains(raw, "online"):
		if strings.Contains(raw, "disconnected") {
			return StateDisconnected
		}
		return StateConnected
	case raw == "" || strings.Contains(raw, "close") || strings.Contains(raw, "logout") || strings.Contains(raw, "offline"):
		return StateDisconnected
	default:
		return StateConnecting
	}
}

func excerpt(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}
