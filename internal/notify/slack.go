package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Slack posts alerts to an incoming webhook as a colored attachment with
// one field per run attribute.
type Slack struct {
	Webhook string
	Client  *http.Client
}

// NewSlack returns nil when webhook is empty.
func NewSlack(webhook string) *Slack {
	if webhook == "" {
		return nil
	}
	return &Slack{
		Webhook: webhook,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer,omitempty"`
	Ts     int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func slackMessage(a Alert) slackPayload {
	r := a.Run
	color := "danger"
	if r.Ready {
		color = "good"
	}
	fields := []slackField{
		{Title: "Probe", Value: r.Probe, Short: true},
		{Title: "State", Value: r.State, Short: true},
		{Title: "Attempts", Value: strconv.Itoa(r.Attempts), Short: true},
		{Title: "Took", Value: r.Duration().Round(time.Millisecond).String(), Short: true},
	}
	if r.Target != "" {
		fields = append(fields, slackField{Title: "Target", Value: r.Target})
	}
	if r.Error != "" {
		fields = append(fields, slackField{Title: "Error", Value: r.Error})
	}
	att := slackAttachment{Color: color, Fields: fields, Footer: "run " + string(r.ID)}
	if !r.FinishedAt.IsZero() {
		att.Ts = r.FinishedAt.Unix()
	}
	return slackPayload{Text: "*" + a.Title + "*", Attachments: []slackAttachment{att}}
}

func (s *Slack) Send(ctx context.Context, a Alert) error {
	if s == nil || s.Webhook == "" {
		return errors.New("slack disabled")
	}
	body, err := json.Marshal(slackMessage(a))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack: unexpected status %d", resp.StatusCode)
	}
	return nil
}
