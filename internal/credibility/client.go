package credibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"launch-ladder-bot/internal/config"
)

// ErrNotFound marks any absence along the identity -> handle -> score chain.
// The caller treats it as a hard, final skip; nothing here is retried.
var ErrNotFound = errors.New("credibility: not found")

// Profile is a creator's resolved social identity.
type Profile struct {
	Address   common.Address
	Handle    string
	Display   string
	Followers int
}

// Gate resolves a creator's identity and reputation score.
type Gate interface {
	ResolveIdentity(ctx context.Context, creator common.Address) (*Profile, error)
	Score(ctx context.Context, handle string) (float64, error)
}

// Client talks to the reputation service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(cfg config.CredibilityConfig, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
}

func (c *Client) ResolveIdentity(ctx context.Context, creator common.Address) (*Profile, error) {
	var payload struct {
		Handle    string `json:"handle"`
		Display   string `json:"display_name"`
		Followers int    `json:"followers"`
	}
	url := fmt.Sprintf("%s/v1/profile/%s", c.baseURL, strings.ToLower(creator.Hex()))
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, err
	}
	if strings.TrimSpace(payload.Handle) == "" {
		return nil, ErrNotFound
	}
	return &Profile{
		Address:   creator,
		Handle:    payload.Handle,
		Display:   payload.Display,
		Followers: payload.Followers,
	}, nil
}

func (c *Client) Score(ctx context.Context, handle string) (float64, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return 0, ErrNotFound
	}
	var payload struct {
		Score *float64 `json:"score"`
	}
	url := fmt.Sprintf("%s/v1/score/%s", c.baseURL, handle)
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return 0, err
	}
	if payload.Score == nil {
		return 0, ErrNotFound
	}
	return *payload.Score, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
