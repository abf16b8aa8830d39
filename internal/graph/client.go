package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	tokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
)

// Client talks to the Microsoft Graph REST API for mailbox operations.
type Client struct {
	clientID     string
	clientSecret string
	tenantID     string
	baseURL      string
	tokenURL     string
	httpClient   *http.Client
}

func NewClient(clientID, clientSecret, tenantID string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		tenantID:     tenantID,
		baseURL:      DefaultBaseURL,
		tokenURL:     fmt.Sprintf(tokenURLFormat, tenantID),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetBaseURL overrides the Graph endpoint (used in tests).
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// Recipient is a display-name/address pair.
type Recipient struct {
	Name    string
	Address string
}

// Attachment carries attachment metadata; ContentBytes is only populated for
// outbound file attachments.
type Attachment struct {
	Name         string
	ContentType  string
	Size         int64
	ContentBytes string
	IsInline     bool
}

// Message is a fully fetched mailbox message.
type Message struct {
	ID                string
	ConversationID    string
	InternetMessageID string
	Subject           string
	BodyPreview       string
	BodyContent       string
	BodyContentType   string
	From              Recipient
	ToRecipients      []Recipient
	CcRecipients      []Recipient
	ReceivedAt        time.Time
	Importance        string
	IsRead            bool
	IsDraft           bool
	HasAttachments    bool
	Attachments       []Attachment
}

// MessagePage is one page of message IDs from a folder listing.
type MessagePage struct {
	MessageIDs []string
	NextLink   string
}

// TokenRefreshResult carries the outcome of an OAuth refresh.
type TokenRefreshResult struct {
	AccessToken  string
	ExpiresAt    time.Time
	RefreshToken string // May be same or new
}

// Subscription mirrors a Graph change-notification subscription.
type Subscription struct {
	ID                 string    `json:"id"`
	Resource           string    `json:"resource"`
	ChangeType         string    `json:"changeType"`
	NotificationURL    string    `json:"notificationUrl"`
	ClientState        string    `json:"clientState"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
}

// wire shapes

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type,omitempty"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size,omitempty"`
	ContentBytes string `json:"contentBytes,omitempty"`
	IsInline     bool   `json:"isInline,omitempty"`
}

type graphMessage struct {
	ID                string            `json:"id"`
	ConversationID    string            `json:"conversationId"`
	InternetMessageID string            `json:"internetMessageId"`
	Subject           string            `json:"subject"`
	BodyPreview       string            `json:"bodyPreview"`
	Body              graphBody         `json:"body"`
	From              *graphRecipient   `json:"from"`
	ToRecipients      []graphRecipient  `json:"toRecipients"`
	CcRecipients      []graphRecipient  `json:"ccRecipients"`
	ReceivedDateTime  time.Time         `json:"receivedDateTime"`
	Importance        string            `json:"importance"`
	IsRead            bool              `json:"isRead"`
	IsDraft           bool              `json:"isDraft"`
	HasAttachments    bool              `json:"hasAttachments"`
	Attachments       []graphAttachment `json:"attachments"`
}

// GetMessage fetches a full message, including attachment metadata.
func (c *Client) GetMessage(ctx context.Context, accessToken string, messageID string) (*Message, error) {
	endpoint := fmt.Sprintf("%s/me/messages/%s?$expand=attachments", c.baseURL, url.PathEscape(messageID))

	var raw graphMessage
	if err := c.do(ctx, accessToken, http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return convertMessage(&raw), nil
}

// ListFolderMessages lists message IDs in a mail folder, one page at a time.
// Pass the previous page's NextLink to continue; an empty NextLink means the
// listing is complete.
func (c *Client) ListFolderMessages(ctx context.Context, accessToken string, folderID string, pageSize int, nextLink string) (*MessagePage, error) {
	endpoint := nextLink
	if endpoint == "" {
		endpoint = fmt.Sprintf("%s/me/mailFolders/%s/messages?$select=id&$top=%d",
			c.baseURL, url.PathEscape(folderID), pageSize)
	}

	var resp struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
		NextLink string `json:"@odata.nextLink"`
	}
	if err := c.do(ctx, accessToken, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list folder messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Value))
	for _, m := range resp.Value {
		ids = append(ids, m.ID)
	}

	return &MessagePage{MessageIDs: ids, NextLink: resp.NextLink}, nil
}

// SendMailRequest describes an outbound message.
type SendMailRequest struct {
	Subject         string
	Body            string
	BodyContentType string // "text" or "html"
	To              []Recipient
	Cc              []Recipient
	Bcc             []Recipient
	ReplyTo         []Recipient
	Importance      string
	Attachments     []Attachment
}

// SendMail delivers a message through the sendMail endpoint.
func (c *Client) SendMail(ctx context.Context, accessToken string, req *SendMailRequest) error {
	contentType := req.BodyContentType
	if contentType == "" {
		contentType = "html"
	}
	importance := req.Importance
	if importance == "" {
		importance = "normal"
	}

	message := map[string]interface{}{
		"subject":      req.Subject,
		"body":         graphBody{ContentType: contentType, Content: req.Body},
		"toRecipients": toGraphRecipients(req.To),
		"importance":   importance,
	}
	if len(req.Cc) > 0 {
		message["ccRecipients"] = toGraphRecipients(req.Cc)
	}
	if len(req.Bcc) > 0 {
		message["bccRecipients"] = toGraphRecipients(req.Bcc)
	}
	if len(req.ReplyTo) > 0 {
		message["replyTo"] = toGraphRecipients(req.ReplyTo)
	}
	if len(req.Attachments) > 0 {
		attachments := make([]graphAttachment, 0, len(req.Attachments))
		for _, a := range req.Attachments {
			attachments = append(attachments, graphAttachment{
				ODataType:    "#microsoft.graph.fileAttachment",
				Name:         a.Name,
				ContentType:  a.ContentType,
				ContentBytes: a.ContentBytes,
				IsInline:     a.IsInline,
			})
		}
		message["attachments"] = attachments
	}

	body := map[string]interface{}{
		"message":         message,
		"saveToSentItems": true,
	}

	endpoint := c.baseURL + "/me/sendMail"
	if err := c.do(ctx, accessToken, http.MethodPost, endpoint, body, nil); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

// CreateSubscription registers a change-notification subscription.
func (c *Client) CreateSubscription(ctx context.Context, accessToken string, notificationURL string, clientState string, expiresAt time.Time) (*Subscription, error) {
	body := map[string]interface{}{
		"changeType":         "created,updated,deleted",
		"notificationUrl":    notificationURL,
		"resource":           "/me/messages",
		"clientState":        clientState,
		"expirationDateTime": expiresAt.UTC().Format(time.RFC3339),
	}

	var sub Subscription
	endpoint := c.baseURL + "/subscriptions"
	if err := c.do(ctx, accessToken, http.MethodPost, endpoint, body, &sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return &sub, nil
}

// RenewSubscription extends a subscription's expiry.
func (c *Client) RenewSubscription(ctx context.Context, accessToken string, subscriptionID string, expiresAt time.Time) (*Subscription, error) {
	body := map[string]interface{}{
		"expirationDateTime": expiresAt.UTC().Format(time.RFC3339),
	}

	var sub Subscription
	endpoint := fmt.Sprintf("%s/subscriptions/%s", c.baseURL, url.PathEscape(subscriptionID))
	if err := c.do(ctx, accessToken, http.MethodPatch, endpoint, body, &sub); err != nil {
		return nil, fmt.Errorf("failed to renew subscription: %w", err)
	}
	return &sub, nil
}

// DeleteSubscription removes a subscription on the provider side.
func (c *Client) DeleteSubscription(ctx context.Context, accessToken string, subscriptionID string) error {
	endpoint := fmt.Sprintf("%s/subscriptions/%s", c.baseURL, url.PathEscape(subscriptionID))
	if err := c.do(ctx, accessToken, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// RefreshAccessToken refreshes the OAuth2 access token against the Microsoft
// identity platform token endpoint.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error) {
	config := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: c.tokenURL,
		},
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
	}

	tokenSource := config.TokenSource(ctx, token)
	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	result := &TokenRefreshResult{
		AccessToken: newToken.AccessToken,
		ExpiresAt:   newToken.Expiry,
	}

	// Check if refresh token was rotated
	if newToken.RefreshToken != "" && newToken.RefreshToken != refreshToken {
		result.RefreshToken = newToken.RefreshToken
	} else {
		result.RefreshToken = refreshToken
	}

	log.Printf("Token refreshed successfully, expires at: %s", result.ExpiresAt)

	return result, nil
}

// do performs an authenticated JSON request. A nil out skips decoding.
func (c *Client) do(ctx context.Context, accessToken string, method string, endpoint string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("Graph API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

func convertMessage(raw *graphMessage) *Message {
	msg := &Message{
		ID:                raw.ID,
		ConversationID:    raw.ConversationID,
		InternetMessageID: raw.InternetMessageID,
		Subject:           raw.Subject,
		BodyPreview:       raw.BodyPreview,
		BodyContent:       raw.Body.Content,
		BodyContentType:   raw.Body.ContentType,
		ToRecipients:      fromGraphRecipients(raw.ToRecipients),
		CcRecipients:      fromGraphRecipients(raw.CcRecipients),
		ReceivedAt:        raw.ReceivedDateTime,
		Importance:        raw.Importance,
		IsRead:            raw.IsRead,
		IsDraft:           raw.IsDraft,
		HasAttachments:    raw.HasAttachments,
	}

	if raw.From != nil {
		msg.From = Recipient{
			Name:    raw.From.EmailAddress.Name,
			Address: raw.From.EmailAddress.Address,
		}
	}

	for _, a := range raw.Attachments {
		msg.Attachments = append(msg.Attachments, Attachment{
			Name:        a.Name,
			ContentType: a.ContentType,
			Size:        a.Size,
			IsInline:    a.IsInline,
		})
	}
	if len(msg.Attachments) > 0 {
		msg.HasAttachments = true
	}

	return msg
}

func toGraphRecipients(recipients []Recipient) []graphRecipient {
	out := make([]graphRecipient, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, graphRecipient{
			EmailAddress: graphEmailAddress{Name: r.Name, Address: r.Address},
		})
	}
	return out
}

func fromGraphRecipients(recipients []graphRecipient) []Recipient {
	if len(recipients) == 0 {
		return nil
	}
	out := make([]Recipient, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, Recipient{
			Name:    r.EmailAddress.Name,
			Address: r.EmailAddress.Address,
		})
	}
	return out
}
