package nsq

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"squall/internal/broker"
)

// TopicAdmin checks and creates topics through the nsqd HTTP API.
type TopicAdmin struct {
	base   string
	client *http.Client
}

var _ broker.TopicManager = (*TopicAdmin)(nil)

// NewTopicAdmin takes the nsqd HTTP address, with or without scheme.
func NewTopicAdmin(httpAddr string, client *http.Client) *TopicAdmin {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	base := strings.TrimRight(httpAddr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &TopicAdmin{base: base, client: client}
}

type topicStats struct {
	TopicName string `json:"topic_name"`
}

// nsqd answers with a bare document for the versioned Accept header and
// wraps it in "data" for older clients.
type statsResponse struct {
	Topics []topicStats `json:"topics"`
	Data   *struct {
		Topics []topicStats `json:"topics"`
	} `json:"data"`
}

func (a *TopicAdmin) TopicExists(ctx context.Context, topic string) (bool, error) {
	u := fmt.Sprintf("%s/stats?format=json&topic=%s", a.base, url.QueryEscape(topic))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/vnd.nsq; version=1.0")

	resp, err := a.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, unexpectedStatus("stats", resp)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return false, fmt.Errorf("decode nsqd stats: %w", err)
	}
	topics := stats.Topics
	if stats.Data != nil {
		topics = append(topics, stats.Data.Topics...)
	}
	for _, t := range topics {
		if t.TopicName == topic {
			return true, nil
		}
	}
	return false, nil
}

func (a *TopicAdmin) CreateTopic(ctx context.Context, topic string) error {
	u := fmt.Sprintf("%s/topic/create?topic=%s", a.base, url.QueryEscape(topic))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unexpectedStatus("topic/create", resp)
	}
	return nil
}

func unexpectedStatus(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("nsqd %s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}
