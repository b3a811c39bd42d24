package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/storacha/freeway/pkg/blockstore"
	"github.com/storacha/freeway/pkg/build"
	"github.com/storacha/freeway/pkg/claims"
	"github.com/storacha/freeway/pkg/index"
	"github.com/storacha/freeway/pkg/telemetry"
	"github.com/storacha/freeway/pkg/types"
)

var log = logging.Logger("server")

const (
	// ContentTypeRaw is the media type of a single raw block response.
	ContentTypeRaw = "application/vnd.ipld.raw"
	// VersionHeader is set on every response.
	VersionHeader = "X-Local-Freeway-Version"

	immutableCacheControl = "public, max-age=29030400, immutable"
)

type config struct {
	httpClient  *http.Client
	log         logging.StandardLogger
	concurrency int
}

type Option func(*config)

// WithHTTPClient configures the HTTP client used to fetch indexes and blocks.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *config) {
		c.httpClient = httpClient
	}
}

// WithLogger configures the logger used to report request failures.
func WithLogger(l logging.StandardLogger) Option {
	return func(c *config) {
		c.log = l
	}
}

// WithConcurrency sets how many CAR indexes are fetched in parallel for a
// single request.
func WithConcurrency(n int) Option {
	return func(c *config) {
		c.concurrency = n
	}
}

// ListenAndServe creates a new freeway HTTP server, and starts it up.
func ListenAndServe(addr string, claimsReader claims.Reader, opts ...Option) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: otelhttp.NewHandler(NewServer(claimsReader, opts...), "freeway"),
	}
	log.Infof("Listening on %s", addr)
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NewServer creates a new freeway HTTP server.
func NewServer(claimsReader claims.Reader, opts ...Option) *http.ServeMux {
	c := &config{
		httpClient:  http.DefaultClient,
		log:         log,
		concurrency: index.DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", withVersionHeader(GetRootHandler()))
	mux.HandleFunc("GET /ipfs/{cid}", withVersionHeader(getBlockHandler(claimsReader, c)))
	mux.HandleFunc("GET /ipfs/{cid}/{path...}", withVersionHeader(notImplemented("path resolution")))
	mux.HandleFunc("/", withVersionHeader(http.NotFound))
	return mux
}

func withVersionHeader(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(VersionHeader, build.Version)
		handler(w, r)
	}
}

func notImplemented(feature string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, fmt.Sprintf("not implemented: %s", feature), http.StatusNotImplemented)
	}
}

// GetRootHandler displays version info when a GET request is sent to "/".
func GetRootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fmt.Sprintf("⁂ freeway %s\n", build.Version)))
		w.Write([]byte("- https://github.com/storacha/freeway\n"))
	}
}

// getBlockHandler serves a single raw block when a GET request is sent to
// "/ipfs/{cid}?format=raw". Every request resolves claims with a fresh
// resolver.
func getBlockHandler(claimsReader claims.Reader, c *config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, s := telemetry.StartSpan(r.Context(), "GetBlock")
		defer s.End()

		if r.Header.Get("Range") != "" {
			notImplemented("range requests")(w, r)
			return
		}
		if !acceptsRaw(r) {
			notImplemented("only raw block responses are supported")(w, r)
			return
		}

		root, err := cid.Parse(r.PathValue("cid"))
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid CID: %s", err), http.StatusBadRequest)
			return
		}

		idx := index.New(claimsReader, index.WithHTTPClient(c.httpClient), index.WithConcurrency(c.concurrency))
		bs := blockstore.New(idx, blockstore.WithHTTPClient(c.httpClient))

		blk, err := bs.Get(ctx, root)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				http.Error(w, fmt.Sprintf("not found: %s", root), http.StatusNotFound)
				return
			}
			telemetry.Error(s, err, "getting block")
			var failed claims.ErrFailedResponse
			if errors.As(err, &failed) {
				c.log.Errorf("reading claims for %s: %s", root, err)
				http.Error(w, "failed to read content claims", http.StatusBadGateway)
				return
			}
			c.log.Errorf("getting block %s: %s", root, err)
			http.Error(w, "failed to get block", http.StatusInternalServerError)
			return
		}

		data := blk.RawData()
		w.Header().Set("Content-Type", ContentTypeRaw)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Etag", fmt.Sprintf("%q", root.String()+".raw"))
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", immutableCacheControl)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			log.Warnf("sending block %s: %s", root, err)
		}
	}
}

func acceptsRaw(r *http.Request) bool {
	if format := r.URL.Query().Get("format"); format != "" {
		return format == "raw"
	}
	for _, accept := range r.Header.Values("Accept") {
		for _, mediaType := range strings.Split(accept, ",") {
			mediaType, _, _ = strings.Cut(mediaType, ";")
			if strings.TrimSpace(mediaType) == ContentTypeRaw {
				return true
			}
		}
	}
	return false
}
