package claims

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	mh "github.com/multiformats/go-multihash"
	"github.com/storacha/freeway/internal/digestutil"
	"github.com/storacha/freeway/pkg/build"
)

// Walk names a claim relation the claims service should follow when
// collecting claims.
type Walk string

const (
	// WalkParts follows the parts of partition claims.
	WalkParts Walk = "parts"
	// WalkIncludes follows the includes of inclusion claims.
	WalkIncludes Walk = "includes"
)

// Reader retrieves claims for content from a claims service.
type Reader interface {
	// Read returns claims for the passed content, plus claims for any content
	// reached by following the walk relations.
	Read(ctx context.Context, content mh.Multihash, walk ...Walk) ([]Claim, error)
}

type ErrFailedResponse struct {
	StatusCode int
	Body       string
}

func errFromResponse(res *http.Response) ErrFailedResponse {
	err := ErrFailedResponse{StatusCode: res.StatusCode}

	message, merr := io.ReadAll(res.Body)
	if merr != nil {
		err.Body = merr.Error()
	} else {
		err.Body = string(message)
	}
	return err
}

func (e ErrFailedResponse) Error() string {
	return fmt.Sprintf("http request failed, status: %d %s, message: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Client reads claims over HTTP from a content claims service.
type Client struct {
	serviceURL url.URL
	httpClient *http.Client
}

var _ Reader = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient configures the HTTP client used to read claims.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(serviceURL url.URL, options ...Option) *Client {
	c := Client{
		serviceURL: serviceURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range options {
		opt(&c)
	}
	return &c
}

// Read fetches claims from GET /claims/multihash/{multihash}?walk={walk}.
func (c *Client) Read(ctx context.Context, content mh.Multihash, walk ...Walk) ([]Claim, error) {
	u := c.serviceURL.JoinPath("claims", "multihash", digestutil.Format(content))
	if len(walk) > 0 {
		q := u.Query()
		q.Set("walk", joinWalk(walk))
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.ipld.car")
	req.Header.Set("User-Agent", build.UserAgent)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending claims request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, errFromResponse(res)
	}
	return Decode(res.Body)
}

func joinWalk(walk []Walk) string {
	names := make([]string, 0, len(walk))
	for _, w := range walk {
		names = append(names, string(w))
	}
	return strings.Join(names, ",")
}
