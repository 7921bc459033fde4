package client

import (
	"net/http"
	"strings"
	"time"
)

// Client talks to a remote qr-signin server.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

type Option func(*Client)

// WithAuthToken sets the bearer session token sent with authenticated
// requests (claiming, task management).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = token
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func New(baseURL string, opts ...Option) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// no overall client timeout: the wait endpoint long-polls,
		// per-request deadlines come from the caller's context
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

// shortTimeout is a helper default for REST-ish calls made without an
// explicit deadline.
const shortTimeout = 15 * time.Second
