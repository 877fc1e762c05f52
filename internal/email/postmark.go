package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const postmarkURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient builds a Postmark client. baseURL is the public origin links are
// served from, e.g. https://snaglist.example.com.
func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

// LinkURL is the public URL for a token.
func (c *Client) LinkURL(token string) string {
	return fmt.Sprintf("%s/l/%s", c.baseURL, token)
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// AccessLinkMessage is the content of a link handed to a contractor.
type AccessLinkMessage struct {
	To          string
	Token       string
	ProjectID   string
	AccessLevel string
	ExpiresAt   time.Time
	PINRequired bool
}

// SendAccessLink emails a contractor their link. The PIN itself is never
// sent; the owner shares it out of band.
func (c *Client) SendAccessLink(ctx context.Context, m AccessLinkMessage) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}
	if m.To == "" {
		return fmt.Errorf("send access link: missing recipient")
	}

	link := c.LinkURL(m.Token)
	expires := m.ExpiresAt.UTC().Format("2 Jan 2006 15:04 MST")
	pinNote := ""
	if m.PINRequired {
		pinNote = " You will need the PIN provided by the site manager."
	}

	subject := fmt.Sprintf("Snag list access for project %s", m.ProjectID)
	textBody := fmt.Sprintf("You have %s access to the snag list:\n\n%s\n\nThis link expires %s.%s",
		m.AccessLevel, link, expires, pinNote)
	htmlBody := fmt.Sprintf(
		`<p>You have %s access to the snag list:</p><p><a href="%s">Open snag list</a></p><p>This link expires %s.%s</p>`,
		m.AccessLevel, link, expires, pinNote,
	)

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       m.To,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postmarkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
