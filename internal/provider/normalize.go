package provider

import (
	"encoding/json"
	"strconv"
	"strings"
)

const (
	msgUnknownFailure = "Unknown error"
	msgMalformed      = "provider returned an unreadable result"
	msgNoImage        = "provider reported success without an image"
)

type pollEnvelope struct {
	Code   int             `json:"code"`
	Msg    string          `json:"msg"`
	Status json.RawMessage `json:"status"`
	Data   *pollData       `json:"data"`
}

type pollData struct {
	Status        json.RawMessage `json:"status"`
	Progress      json.Number     `json:"progress"`
	ImageURL      string          `json:"imageUrl"`
	Images        []string        `json:"images"`
	Result        string          `json:"result"`
	Results       []pollResult    `json:"results"`
	FailureReason string          `json:"failure_reason"`
	Error         string          `json:"error"`
}

type pollResult struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Normalize maps every historical poll response shape onto a PollResult.
// Undecodable bodies and successes without an image come back as failed.
func Normalize(raw []byte) (*PollResult, error) {
	var env pollEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &PollResult{Status: StatusFailed, Error: msgMalformed}, nil
	}

	data := env.Data
	if data == nil {
		data = &pollData{}
	}
	rawStatus := data.Status
	if len(rawStatus) == 0 || string(rawStatus) == "null" {
		rawStatus = env.Status
	}

	out := &PollResult{
		Status:   classifyStatus(rawStatus),
		Progress: parseProgress(data.Progress),
	}

	switch out.Status {
	case StatusFailed:
		out.Error = firstNonEmpty(data.FailureReason, data.Error, env.Msg, msgUnknownFailure)
	case StatusCompleted:
		out.ResultImageURL, out.Description = extractImage(data)
		if out.ResultImageURL == "" {
			return &PollResult{Status: StatusFailed, Error: msgNoImage, Progress: out.Progress}, nil
		}
		out.Progress = 100
	}
	return out, nil
}

func classifyStatus(raw json.RawMessage) string {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		switch n {
		case 1:
			return StatusCompleted
		case -1:
			return StatusFailed
		}
		return StatusProcessing
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "succeeded", "SUCCESS":
			return StatusCompleted
		case "failed", "FAILED":
			return StatusFailed
		}
	}
	return StatusProcessing
}

func extractImage(d *pollData) (imageURL, description string) {
	if len(d.Results) > 0 {
		imageURL = cleanURL(d.Results[0].URL)
		description = d.Results[0].Content
	}
	if imageURL == "" {
		switch {
		case d.ImageURL != "":
			imageURL = cleanURL(d.ImageURL)
		case len(d.Images) > 0:
			imageURL = cleanURL(d.Images[0])
		}
	}
	if d.Result != "" {
		if imageURL == "" {
			imageURL = cleanURL(d.Result)
		} else if description == "" {
			description = d.Result
		}
	}
	return imageURL, description
}

// cleanURL strips the backticks and whitespace some responses wrap URLs in.
func cleanURL(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "`", ""))
}

func parseProgress(n json.Number) int {
	if n == "" {
		return 0
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0
	}
	p := int(f)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
