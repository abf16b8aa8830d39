package openrouter

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

const (
	OpenRouterAPIURL = "https://openrouter.ai/api/v1/chat/completions"
)

type Client struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
	model      *string // Optional: if nil, uses OpenRouter account default
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		apiURL: OpenRouterAPIURL,
		httpClient: &http.Client{
			Timeout: 300 * time.Second, // 5 minutes timeout for LLM calls (free models are slow)
		},
		model: nil, // Use OpenRouter account default
	}
}

// SetModel sets a specific model to use (optional)
func (c *Client) SetModel(model string) {
	c.model = &model
}

// SetAPIURL overrides the completion endpoint (used in tests)
func (c *Client) SetAPIURL(apiURL string) {
	c.apiURL = apiURL
}

// EmailData represents the email content to analyze
type EmailData struct {
	From    string
	Subject string
	Body    string
}

// EmailEntities holds the structured entities extracted from an email
type EmailEntities struct {
	Names        []string `json:"names"`
	Emails       []string `json:"emails"`
	Phones       []string `json:"phones"`
	Addresses    []string `json:"addresses"`
	Dates        []string `json:"dates"`
	Amounts      []string `json:"amounts"`
	PropertyRefs []string `json:"property_refs"`
}

// SuggestedAction is a recommended follow-up with a confidence score
type SuggestedAction struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
}

// EmailAnalysis represents the structured classification of an email
type EmailAnalysis struct {
	Category         string            `json:"category"`
	Sentiment        string            `json:"sentiment"`
	Priority         string            `json:"priority"`
	Summary          string            `json:"summary"`
	Entities         EmailEntities     `json:"entities"`
	SuggestedActions []SuggestedAction `json:"suggested_actions"`
}

// AnalyzeEmail requests a structured analysis of a single email from the LLM
func (c *Client) AnalyzeEmail(ctx context.Context, email EmailData) (*EmailAnalysis, map[string]interface{}, error) {
	prompt := c.buildPrompt(email)

	reqBody := map[string]interface{}{
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": prompt,
			},
		},
	}

	// Only include model if explicitly set, otherwise use OpenRouter account default
	if c.model != nil {
		reqBody["model"] = *c.model
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	// Parse OpenRouter response
	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, nil, fmt.Errorf("failed to parse API response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return nil, nil, fmt.Errorf("no response from LLM")
	}

	content := apiResp.Choices[0].Message.Content

	// Store raw response for audit
	var rawResponse map[string]interface{}
	_ = json.Unmarshal(body, &rawResponse)

	// Clean the content (remove markdown code blocks if present)
	cleanedContent := c.cleanJSONResponse(content)

	// Parse analysis from LLM response
	var analysis EmailAnalysis
	if err := json.Unmarshal([]byte(cleanedContent), &analysis); err != nil {
		return nil, rawResponse, fmt.Errorf("failed to parse analysis JSON: %w", err)
	}

	c.normalizeAnalysis(&analysis)

	if !c.isValidAnalysis(analysis) {
		return nil, rawResponse, fmt.Errorf("LLM returned incomplete analysis")
	}

	return &analysis, rawResponse, nil
}

// cleanJSONResponse removes markdown code blocks and extra whitespace from LLM response
func (c *Client) cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	// Find the first { and last } to extract just the JSON object
	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")

	if startIdx == -1 || endIdx == -1 || startIdx > endIdx {
		// No valid JSON found, return as is and let JSON parser fail with proper error
		return content
	}

	// Extract just the JSON object
	jsonContent := content[startIdx : endIdx+1]

	return strings.TrimSpace(jsonContent)
}

// normalizeAnalysis fills defaults for optional fields the model left blank
func (c *Client) normalizeAnalysis(analysis *EmailAnalysis) {
	if analysis.Sentiment == "" {
		analysis.Sentiment = "neutral"
	}
	if analysis.Priority == "" {
		analysis.Priority = "medium"
	}
}

// buildPrompt builds the LLM prompt from email data
func (c *Client) buildPrompt(email EmailData) string {
	return fmt.Sprintf(`You are an AI that classifies inbound emails for a real-estate agency and extracts structured information from them.

Analyze the given email and return a STRICT JSON object.

### OUTPUT FORMAT (STRICT JSON ONLY)
Return JSON with these keys:

{
  "category": "",
  "sentiment": "",
  "priority": "",
  "summary": "",
  "entities": {
    "names": [],
    "emails": [],
    "phones": [],
    "addresses": [],
    "dates": [],
    "amounts": [],
    "property_refs": []
  },
  "suggested_actions": []
}

### FIELD DEFINITIONS

category
- One of: "enquiry", "viewing_request", "offer", "maintenance", "legal", "invoice", "spam", "other"
- Infer from the content. A question about a listed property is "enquiry"; a request to visit is "viewing_request".

sentiment
- One of: "positive", "neutral", "negative"

priority
- One of: "high", "medium", "low"
- Offers, legal matters and urgent maintenance are "high".

summary
- 1-2 sentence natural-language summary of the email.

entities
- names: person names mentioned in the email.
- emails / phones: contact details found in the text.
- addresses: postal or property addresses.
- dates: dates or times mentioned (viewing slots, deadlines) as written.
- amounts: monetary amounts as written, including currency.
- property_refs: listing references, property IDs or URLs.

suggested_actions
- Array of objects: {"action": "", "confidence": 0.0}
- Concrete follow-ups for the agent (e.g. "Schedule a viewing for Saturday", "Reply with the floor plan").
- confidence is a number between 0 and 1.

### CRITICAL RULES
- Output ONLY the JSON object, no explanations.
- All keys must exist. Use empty arrays when nothing was found.
- Never invent names, amounts or references; extract only from the text.
- The summary must never be empty.

### Now analyze this email:

From: %s
Subject: %s

%s`, email.From, email.Subject, email.Body)
}

// isValidAnalysis checks that the required fields are present
func (c *Client) isValidAnalysis(analysis EmailAnalysis) bool {
	if analysis.Category == "" {
		return false
	}
	if analysis.Summary == "" {
		return false
	}
	return true
}
