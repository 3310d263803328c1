package esp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SparkPost sends email through the SparkPost Transmissions API.
type SparkPost struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewSparkPost creates a sender targeting the SparkPost v1 API. An empty
// baseURL uses the US endpoint.
func NewSparkPost(apiKey, baseURL string, client *http.Client) *SparkPost {
	if baseURL == "" {
		baseURL = "https://api.sparkpost.com/api/v1"
	}
	if client == nil {
		client = &http.Client{}
	}
	return &SparkPost{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (s *SparkPost) Name() string { return "sparkpost" }

func (s *SparkPost) Send(ctx context.Context, msg Message) (string, string, error) {
	if s.apiKey == "" {
		return "", "", configError("sparkpost", "API key not configured")
	}

	content := map[string]interface{}{
		"from":    map[string]string{"email": msg.FromEmail, "name": msg.FromName},
		"subject": msg.Subject,
		"html":    msg.HTML,
		"text":    msg.Text,
	}
	if msg.ReplyTo != "" {
		content["reply_to"] = msg.ReplyTo
	}
	transmission := map[string]interface{}{
		"recipients": []map[string]interface{}{
			{"address": map[string]string{"email": msg.To}},
		},
		"content": content,
		"metadata": map[string]interface{}{
			"event_id": msg.EventID,
		},
		"options": map[string]interface{}{
			"transactional": true,
		},
	}

	jsonData, err := json.Marshal(transmission)
	if err != nil {
		return "", "", &Error{Provider: "sparkpost", Kind: KindPermanent, Code: "encode", Msg: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/transmissions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", "", configError("sparkpost", err.Error())
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if e := StatusError("sparkpost", resp.StatusCode, string(body)); e != nil {
		return "", string(body), e
	}

	var result struct {
		Results struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", string(body), fmt.Errorf("decode sparkpost response: %w", err)
	}
	return result.Results.ID, string(body), nil
}
