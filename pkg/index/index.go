// Package index resolves CIDs to the location of their encoded block by
// walking content claims: partition claims name the parts holding a DAG,
// inclusion claims name the index of each part and location claims say where
// parts and indexes can be fetched from.
package index

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
	"github.com/storacha/freeway/internal/digestutil"
	"github.com/storacha/freeway/pkg/build"
	"github.com/storacha/freeway/pkg/claims"
	"github.com/storacha/freeway/pkg/internal/bytemap"
	"github.com/storacha/freeway/pkg/mhindex"
	"github.com/storacha/freeway/pkg/telemetry"
	"github.com/storacha/freeway/pkg/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var log = logging.Logger("index")

// DefaultConcurrency is the default number of index objects fetched in
// parallel while processing claims.
const DefaultConcurrency = 4

// GapReason describes why a part of a claim graph could not be indexed.
type GapReason string

const (
	MissingInclusion     GapReason = "missing inclusion claim for part"
	MissingPartLocation  GapReason = "missing location claim for part"
	MissingIndexLocation GapReason = "missing location claim for index"
	IndexFetchFailed     GapReason = "failed to fetch index"
	IndexDecodeFailed    GapReason = "failed to decode index"
)

// Gap is a part of a claim graph that was skipped while processing claims.
type Gap struct {
	Reason GapReason
	// Part is the multihash of the part that could not be indexed.
	Part mh.Multihash
	// Index is the multihash of the part's index, when known.
	Index mh.Multihash
	Err   error
}

func (g Gap) Error() string {
	msg := fmt.Sprintf("%s: %s", g.Reason, digestutil.Format(g.Part))
	if g.Index != nil {
		msg += fmt.Sprintf(" (index: %s)", digestutil.Format(g.Index))
	}
	if g.Err != nil {
		msg += fmt.Sprintf(": %s", g.Err)
	}
	return msg
}

func (g Gap) Unwrap() error {
	return g.Err
}

// Result is the outcome of resolving a CID. Entry is nil when no location
// could be found. Gaps lists parts that were skipped while processing the
// claims read during this resolution.
type Result struct {
	Entry *types.IndexEntry
	Gaps  []Gap
}

// ContentClaimsIndex resolves CIDs to index entries using content claims. It
// caches every entry discovered, so resolving a DAG root makes the locations
// of its blocks available without further claims reads. It is safe for
// concurrent use and is intended to live for a single top level request.
type ContentClaimsIndex struct {
	claims      claims.Reader
	httpClient  *http.Client
	concurrency int

	mu      sync.RWMutex
	cache   bytemap.ByteMap[mh.Multihash, types.IndexEntry]
	fetched bytemap.ByteMap[mh.Multihash, struct{}]
	group   singleflight.Group
}

type Option func(*ContentClaimsIndex)

// WithHTTPClient configures the HTTP client used to fetch index objects.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(ci *ContentClaimsIndex) {
		ci.httpClient = httpClient
	}
}

// WithConcurrency sets how many index objects may be fetched in parallel.
func WithConcurrency(n int) Option {
	return func(ci *ContentClaimsIndex) {
		if n > 0 {
			ci.concurrency = n
		}
	}
}

func New(claims claims.Reader, opts ...Option) *ContentClaimsIndex {
	ci := &ContentClaimsIndex{
		claims:      claims,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		concurrency: DefaultConcurrency,
		cache:       bytemap.NewByteMap[mh.Multihash, types.IndexEntry](-1),
		fetched:     bytemap.NewByteMap[mh.Multihash, struct{}](-1),
	}
	for _, opt := range opts {
		opt(ci)
	}
	return ci
}

// Get returns the index entry for the CID or [types.ErrNotFound].
func (ci *ContentClaimsIndex) Get(ctx context.Context, c cid.Cid) (types.IndexEntry, error) {
	res, err := ci.Resolve(ctx, c)
	if err != nil {
		return types.IndexEntry{}, err
	}
	if res.Entry == nil {
		return types.IndexEntry{}, fmt.Errorf("%w: %s", types.ErrNotFound, c)
	}
	return *res.Entry, nil
}

// Resolve finds the index entry for the CID and reports any gaps found in
// the claim graph along the way.
//
// A cached raw CID is returned without reading claims, since raw blocks have
// no links. Any other CID has its claims read (once per index) so that the
// locations of its children are cached before they are requested.
func (ci *ContentClaimsIndex) Resolve(ctx context.Context, c cid.Cid) (Result, error) {
	ctx, s := telemetry.StartSpan(ctx, "ContentClaimsIndex.Resolve")
	defer s.End()

	digest := c.Hash()
	entry, ok := ci.lookup(digest)
	if ok && multicodec.Code(c.Prefix().Codec) == multicodec.Raw {
		s.AddEvent("cache hit")
		return Result{Entry: &entry}, nil
	}

	gaps, err := ci.readClaims(ctx, digest)
	if err != nil {
		if !ok {
			telemetry.Error(s, err, "reading claims")
			return Result{}, err
		}
		log.Warnf("reading claims for cached entry %s: %s", c, err)
		return Result{Entry: &entry}, nil
	}

	res := Result{Gaps: gaps}
	if entry, ok := ci.lookup(digest); ok {
		res.Entry = &entry
	}
	return res, nil
}

func (ci *ContentClaimsIndex) lookup(digest mh.Multihash) (types.IndexEntry, bool) {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.cache.Lookup(digest)
}

func (ci *ContentClaimsIndex) isFetched(digest mh.Multihash) bool {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.fetched.Has(digest)
}

// readClaims reads and processes claims for the digest unless that has
// already been done. Concurrent calls for the same digest share one read,
// which is not cancelled when a caller gives up waiting on it.
func (ci *ContentClaimsIndex) readClaims(ctx context.Context, digest mh.Multihash) ([]Gap, error) {
	if ci.isFetched(digest) {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shared := context.WithoutCancel(ctx)
	ch := ci.group.DoChan(string(digest), func() (any, error) {
		if ci.isFetched(digest) {
			return []Gap(nil), nil
		}
		gaps, err := ci.processClaims(shared, digest)
		if err != nil {
			return nil, err
		}
		ci.mu.Lock()
		ci.fetched.Set(digest, struct{}{})
		ci.mu.Unlock()
		return gaps, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Gap), nil
	}
}

// indexJob is a part with a known location and a located index.
type indexJob struct {
	part         mh.Multihash
	partLocation claims.LocationClaim
	index        mh.Multihash
	location     claims.LocationClaim
}

func (ci *ContentClaimsIndex) processClaims(ctx context.Context, digest mh.Multihash) ([]Gap, error) {
	ctx, s := telemetry.StartSpan(ctx, "ContentClaimsIndex.processClaims")
	defer s.End()

	found, err := ci.claims.Read(ctx, digest, claims.WalkParts, claims.WalkIncludes)
	if err != nil {
		return nil, fmt.Errorf("reading claims for %s: %w", digestutil.Format(digest), err)
	}
	s.AddEvent(fmt.Sprintf("read %d claims", len(found)))

	bySubject := bytemap.NewByteMap[mh.Multihash, []claims.Claim](-1)
	locations := bytemap.NewByteMap[mh.Multihash, claims.LocationClaim](-1)
	for _, c := range found {
		bySubject.Set(c.Content(), append(bySubject.Get(c.Content()), c))
		if lc, ok := c.(claims.LocationClaim); ok && len(lc.Location) > 0 {
			locations.Set(lc.Content(), lc)
		}
	}

	var jobs []indexJob
	var gaps []Gap
	for _, part := range partsOf(digest, bySubject.Get(digest)) {
		inclusion, ok := firstInclusion(bySubject.Get(part))
		if !ok {
			gaps = append(gaps, Gap{Reason: MissingInclusion, Part: part})
			continue
		}
		index := inclusion.Includes.Hash()
		partLocation, ok := locations.Lookup(part)
		if !ok {
			gaps = append(gaps, Gap{Reason: MissingPartLocation, Part: part, Index: index})
			continue
		}
		indexLocation, ok := locations.Lookup(index)
		if !ok {
			gaps = append(gaps, Gap{Reason: MissingIndexLocation, Part: part, Index: index})
			continue
		}
		jobs = append(jobs, indexJob{part, partLocation, index, indexLocation})
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(ci.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			if gap := ci.indexPart(ctx, job); gap != nil {
				mu.Lock()
				gaps = append(gaps, *gap)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	// a cancelled read must not be recorded as fetched
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, gap := range gaps {
		log.Warnf("%s", gap)
	}
	return gaps, nil
}

// partsOf returns the parts named by partition claims for the digest, or the
// digest itself when it has no partition claim.
func partsOf(digest mh.Multihash, subjectClaims []claims.Claim) []mh.Multihash {
	seen := bytemap.NewByteMap[mh.Multihash, struct{}](-1)
	var parts []mh.Multihash
	partitioned := false
	for _, c := range subjectClaims {
		pc, ok := c.(claims.PartitionClaim)
		if !ok {
			continue
		}
		partitioned = true
		for _, p := range pc.Parts {
			if seen.SetIfAbsent(p.Hash(), struct{}{}) {
				parts = append(parts, p.Hash())
			}
		}
	}
	if !partitioned {
		return []mh.Multihash{digest}
	}
	return parts
}

func firstInclusion(subjectClaims []claims.Claim) (claims.InclusionClaim, bool) {
	for _, c := range subjectClaims {
		if ic, ok := c.(claims.InclusionClaim); ok {
			return ic, true
		}
	}
	return claims.InclusionClaim{}, false
}

// indexPart fetches and decodes the index of a part, caching its entries. The
// entries are only cached once the whole index has been decoded.
func (ci *ContentClaimsIndex) indexPart(ctx context.Context, job indexJob) *Gap {
	ctx, s := telemetry.StartSpan(ctx, "ContentClaimsIndex.indexPart")
	defer s.End()

	body, closer, err := ci.fetchIndex(ctx, job.location)
	if err != nil {
		telemetry.Error(s, err, "fetching index")
		return &Gap{Reason: IndexFetchFailed, Part: job.part, Index: job.index, Err: err}
	}
	defer closer.Close()

	var entries []types.IndexEntry
	for entry, err := range mhindex.Entries(job.partLocation.Location[0], body) {
		if err != nil {
			telemetry.Error(s, err, "decoding index")
			return &Gap{Reason: IndexDecodeFailed, Part: job.part, Index: job.index, Err: err}
		}
		entries = append(entries, entry)
	}

	ci.mu.Lock()
	added := 0
	for _, entry := range entries {
		if ci.cache.SetIfAbsent(entry.Multihash, entry) {
			added++
		}
	}
	ci.mu.Unlock()
	log.Debugf("indexed %d of %d blocks in part %s", added, len(entries), digestutil.Format(job.part))
	return nil
}

// fetchIndex requests the index object, honouring the byte range of its
// location claim.
func (ci *ContentClaimsIndex) fetchIndex(ctx context.Context, location claims.LocationClaim) (io.Reader, io.Closer, error) {
	u := location.Location[0]
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", build.UserAgent)
	rng := location.Range
	if rng != nil {
		req.Header.Set("Range", rangeHeader(*rng))
	}

	res, err := ci.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("sending request: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return nil, nil, fmt.Errorf("unexpected status fetching %s: %d", u.String(), res.StatusCode)
	}

	var body io.Reader = res.Body
	if rng != nil && res.StatusCode != http.StatusPartialContent {
		// range ignored by server
		if _, err := io.CopyN(io.Discard, body, int64(rng.Offset)); err != nil {
			res.Body.Close()
			return nil, nil, fmt.Errorf("skipping to range offset: %w", err)
		}
		if rng.Length != nil && *rng.Length > 0 {
			body = io.LimitReader(body, int64(*rng.Length))
		}
	}
	return body, res.Body, nil
}

func rangeHeader(rng claims.Range) string {
	if rng.Length == nil || *rng.Length == 0 {
		return fmt.Sprintf("bytes=%d-", rng.Offset)
	}
	return fmt.Sprintf("bytes=%d-%d", rng.Offset, rng.Offset+*rng.Length-1)
}
