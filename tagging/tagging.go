// Package tagging is a small client for an Imagga compatible image
// tagging API. The storefront uses the returned tags to drive a product
// search by image.
package tagging

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"storefront/logging"
)

const maxResponseSize = 1 << 20

// ErrNoImage is returned when Tags is called with an empty image.
var ErrNoImage = errors.New("tagging: empty image")

// Config holds client configuration.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string

	// MinConfidence drops tags scored below it (0-100).
	MinConfidence float64

	// MaxTags bounds the result; zero means unbounded.
	MaxTags int

	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logrus.FieldLogger
}

// NewClient returns a tagging client. Credentials are required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("tagging: api key and secret are required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("tagging: base url: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{cfg: cfg, http: cfg.HTTPClient, log: cfg.Logger}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.log == nil {
		c.log = logging.Discard()
	}
	return c, nil
}

type tagsResponse struct {
	Result struct {
		Tags []struct {
			Confidence float64 `json:"confidence"`
			Tag        struct {
				EN string `json:"en"`
			} `json:"tag"`
		} `json:"tags"`
	} `json:"result"`
	Status struct {
		Text string `json:"text"`
		Type string `json:"type"`
	} `json:"status"`
}

type scored struct {
	name       string
	confidence float64
}

// Tags uploads image and returns its tags, most confident first.
func (c *Client) Tags(ctx context.Context, image []byte) ([]string, error) {
	if len(image) == 0 {
		return nil, ErrNoImage
	}

	form := url.Values{"image_base64": {base64.StdEncoding.EncodeToString(image)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v2/tags", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("tagging: create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.APIKey, c.cfg.APISecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	log := c.log.WithFields(logrus.Fields{"request_id": uuid.NewString(), "bytes": len(image)})

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tagging: send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("tagging: read response: %w", err)
	}

	var body tagsResponse
	decodeErr := json.Unmarshal(data, &body)
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if decodeErr == nil && body.Status.Text != "" {
			msg = body.Status.Text
		}
		return nil, fmt.Errorf("tagging: request failed: %s: %s", resp.Status, msg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("tagging: decode response: %w", decodeErr)
	}
	if body.Status.Type == "error" {
		return nil, fmt.Errorf("tagging: %s", body.Status.Text)
	}

	var tags []scored
	seen := make(map[string]bool)
	for _, t := range body.Result.Tags {
		name := strings.ToLower(strings.TrimSpace(t.Tag.EN))
		if name == "" || seen[name] || t.Confidence < c.cfg.MinConfidence {
			continue
		}
		seen[name] = true
		tags = append(tags, scored{name: name, confidence: t.Confidence})
	}
	sort.SliceStable(tags, func(i, j int) bool { return tags[i].confidence > tags[j].confidence })
	if c.cfg.MaxTags > 0 && len(tags) > c.cfg.MaxTags {
		tags = tags[:c.cfg.MaxTags]
	}

	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.name
	}
	log.WithField("tags", out).Debug("image tagged")
	return out, nil
}
