package index_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
	"github.com/storacha/freeway/pkg/claims"
	"github.com/storacha/freeway/pkg/index"
	"github.com/storacha/freeway/pkg/internal/extmocks"
	"github.com/storacha/freeway/pkg/internal/testutil"
	"github.com/storacha/freeway/pkg/types"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var walk = []claims.Walk{claims.WalkParts, claims.WalkIncludes}

type mockClaims struct {
	mock.Mock
}

var _ claims.Reader = (*mockClaims)(nil)

func (m *mockClaims) Read(ctx context.Context, content mh.Multihash, walk ...claims.Walk) ([]claims.Claim, error) {
	args := m.Called(ctx, content, walk)
	cs, _ := args.Get(0).([]claims.Claim)
	return cs, args.Error(1)
}

func claimsOf(t *testing.T, dlgs ...delegation.Delegation) []claims.Claim {
	cs := make([]claims.Claim, 0, len(dlgs))
	for _, dlg := range dlgs {
		cs = append(cs, testutil.Must(claims.FromDelegation(dlg))(t))
	}
	return cs
}

// objectServer serves objects by path, supporting range requests.
type objectServer struct {
	*httptest.Server
	mu       sync.Mutex
	objects  map[string][]byte
	requests atomic.Int64
}

func newObjectServer(t *testing.T) *objectServer {
	objs := &objectServer{objects: map[string][]byte{}}
	objs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		objs.requests.Add(1)
		objs.mu.Lock()
		data, ok := objs.objects[r.URL.Path]
		objs.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, r.URL.Path, time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(objs.Close)
	return objs
}

func (objs *objectServer) put(t *testing.T, path string, data []byte) url.URL {
	objs.mu.Lock()
	objs.objects[path] = data
	objs.mu.Unlock()
	return *testutil.Must(url.Parse(objs.URL + path))(t)
}

// storedShard is a shard and its index uploaded to the object server.
type storedShard struct {
	testutil.Shard
	location      url.URL
	index         cid.Cid
	indexLocation url.URL
}

func storeShard(t *testing.T, objs *objectServer, shard testutil.Shard) storedShard {
	indexBytes, indexCID := shard.Index()
	return storedShard{
		Shard:         shard,
		location:      objs.put(t, "/"+shard.CID.String()+".car", shard.Bytes),
		index:         indexCID,
		indexLocation: objs.put(t, "/"+indexCID.String()+".idx", indexBytes),
	}
}

// shardClaims returns the location, inclusion and index location claims for a
// stored shard.
func shardClaims(s storedShard) []delegation.Delegation {
	return []delegation.Delegation{
		testutil.LocationDelegation(s.CID, s.location, nil),
		testutil.InclusionDelegation(s.CID, s.index),
		testutil.LocationDelegation(s.index, s.indexLocation, nil),
	}
}

func dagRoot(s testutil.Shard) cid.Cid {
	return cid.NewCidV1(uint64(multicodec.DagPb), s.Blocks[0].CID.Hash())
}

func TestResolveFullGraph(t *testing.T) {
	ctx := context.Background()
	objs := newObjectServer(t)
	shard1 := storeShard(t, objs, testutil.RandomShard(5, 128))
	shard2 := storeShard(t, objs, testutil.RandomShard(5, 128))
	root := dagRoot(shard1.Shard)

	dlgs := []delegation.Delegation{testutil.PartitionDelegation(root, shard1.CID, shard2.CID)}
	dlgs = append(dlgs, shardClaims(shard1)...)
	dlgs = append(dlgs, shardClaims(shard2)...)

	mockClaims := &mockClaims{}
	mockClaims.On("Read", extmocks.AnyContext, root.Hash(), walk).Return(claimsOf(t, dlgs...), nil).Once()

	idx := index.New(mockClaims)
	res := testutil.Must(idx.Resolve(ctx, root))(t)
	require.Empty(t, res.Gaps)
	require.NotNil(t, res.Entry)
	require.Equal(t, shard1.location, res.Entry.Location)
	require.Equal(t, shard1.Blocks[0].Offset, res.Entry.Offset)
	require.Equal(t, root.Hash(), res.Entry.Multihash)

	fetches := objs.requests.Load()

	for _, s := range []storedShard{shard1, shard2} {
		for _, b := range s.Blocks {
			entry := testutil.Must(idx.Get(ctx, b.CID))(t)
			require.Equal(t, s.location, entry.Location)
			require.Equal(t, b.Offset, entry.Offset)
		}
	}

	// raw blocks resolve from the cache, as does the already fetched root
	testutil.Must(idx.Get(ctx, root))(t)
	mockClaims.AssertNumberOfCalls(t, "Read", 1)
	require.Equal(t, fetches, objs.requests.Load())
}

func TestResolveUnpartitioned(t *testing.T) {
	ctx := context.Background()
	objs := newObjectServer(t)
	shard := storeShard(t, objs, testutil.RandomShard(3, 64))
	root := shard.Blocks[1].CID

	// claims for the shard itself, with no partition claim
	mockClaims := &mockClaims{}
	mockClaims.On("Read", extmocks.AnyContext, shard.CID.Hash(), walk).Return(claimsOf(t, shardClaims(shard)...), nil).Once()

	idx := index.New(mockClaims)
	res := testutil.Must(idx.Resolve(ctx, shard.CID))(t)
	require.Nil(t, res.Entry)
	require.Empty(t, res.Gaps)

	entry := testutil.Must(idx.Get(ctx, root))(t)
	require.Equal(t, shard.location, entry.Location)
	require.Equal(t, shard.Blocks[1].Offset, entry.Offset)
	mockClaims.AssertNumberOfCalls(t, "Read", 1)
}

func TestResolveNotFoundIsFetchedOnce(t *testing.T) {
	ctx := context.Background()
	content := testutil.RandomCID()

	mockClaims := &mockClaims{}
	mockClaims.On("Read", extmocks.AnyContext, content.Hash(), walk).Return([]claims.Claim{}, nil).Once()

	idx := index.New(mockClaims)
	for range 3 {
		_, err := idx.Get(ctx, content)
		require.ErrorIs(t, err, types.ErrNotFound)
	}
	mockClaims.AssertNumberOfCalls(t, "Read", 1)
}

func TestResolveClaimsError(t *testing.T) {
	ctx := context.Background()
	objs := newObjectServer(t)
	shard := storeShard(t, objs, testutil.RandomShard(2, 64))
	root := dagRoot(shard.Shard)
	dlgs := append([]delegation.Delegation{testutil.PartitionDelegation(root, shard.CID)}, shardClaims(shard)...)

	boom := errors.New("boom")
	mockClaims := &mockClaims{}
	mockClaims.On("Read", extmocks.AnyContext, root.Hash(), walk).Return(nil, boom).Once()
	mockClaims.On("Read", extmocks.AnyContext, root.Hash(), walk).Return(claimsOf(t, dlgs...), nil).Once()

	idx := index.New(mockClaims)
	_, err := idx.Get(ctx, root)
	require.ErrorIs(t, err, boom)

	// a failed read is retried on the next call
	entry := testutil.Must(idx.Get(ctx, root))(t)
	require.Equal(t, shard.location, entry.Location)
	mockClaims.AssertNumberOfCalls(t, "Read", 2)
}

func TestResolveGaps(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name   string
		broken func(t *testing.T, objs *objectServer, s storedShard) []delegation.Delegation
		reason index.GapReason
	}{
		{
			name: "missing inclusion",
			broken: func(t *testing.T, objs *objectServer, s storedShard) []delegation.Delegation {
				return []delegation.Delegation{
					testutil.LocationDelegation(s.CID, s.location, nil),
					testutil.LocationDelegation(s.index, s.indexLocation, nil),
				}
			},
			reason: index.MissingInclusion,
		},
		{
			name: "missing part location",
			broken: func(t *testing.T, objs *objectServer, s storedShard) []delegation.Delegation {
				return []delegation.Delegation{
					testutil.InclusionDelegation(s.CID, s.index),
					testutil.LocationDelegation(s.index, s.indexLocation, nil),
				}
			},
			reason: index.MissingPartLocation,
		},
		{
			name: "missing index location",
			broken: func(t *testing.T, objs *objectServer, s storedShard) []delegation.Delegation {
				return []delegation.Delegation{
					testutil.LocationDelegation(s.CID, s.location, nil),
					testutil.InclusionDelegation(s.CID, s.index),
				}
			},
			reason: index.MissingIndexLocation,
		},
		{
			name: "index fetch failure",
			broken: func(t *testing.T, objs *objectServer, s storedShard) []delegation.Delegation {
				missing := *testutil.Must(url.Parse(objs.URL + "/missing.idx"))(t)
				return []delegation.Delegation{
					testutil.LocationDelegation(s.CID, s.location, nil),
					testutil.InclusionDelegation(s.CID, s.index),
					testutil.LocationDelegation(s.index, missing, nil),
				}
			},
			reason: index.IndexFetchFailed,
		},
		{
			name: "index decode failure",
			broken: func(t *testing.T, objs *objectServer, s storedShard) []delegation.Delegation {
				indexBytes, _ := s.Shard.Index()
				truncated := objs.put(t, "/truncated.idx", indexBytes[:len(indexBytes)-4])
				return []delegation.Delegation{
					testutil.LocationDelegation(s.CID, s.location, nil),
					testutil.InclusionDelegation(s.CID, s.index),
					testutil.LocationDelegation(s.index, truncated, nil),
				}
			},
			reason: index.IndexDecodeFailed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			objs := newObjectServer(t)
			broken := storeShard(t, objs, testutil.RandomShard(3, 64))
			working := storeShard(t, objs, testutil.RandomShard(3, 64))
			root := dagRoot(broken.Shard)

			dlgs := []delegation.Delegation{testutil.PartitionDelegation(root, broken.CID, working.CID)}
			dlgs = append(dlgs, tc.broken(t, objs, broken)...)
			dlgs = append(dlgs, shardClaims(working)...)

			mockClaims := &mockClaims{}
			mockClaims.On("Read", extmocks.AnyContext, root.Hash(), walk).Return(claimsOf(t, dlgs...), nil).Once()
			// blocks with no entry have no claims of their own
			mockClaims.On("Read", extmocks.AnyContext, mock.Anything, walk).Return([]claims.Claim{}, nil)

			idx := index.New(mockClaims)
			res := testutil.Must(idx.Resolve(ctx, root))(t)
			require.Nil(t, res.Entry)
			require.Len(t, res.Gaps, 1)
			require.Equal(t, tc.reason, res.Gaps[0].Reason)
			require.Equal(t, broken.CID.Hash(), res.Gaps[0].Part)

			// blocks of the broken part are not indexed, not even partially
			for _, b := range broken.Blocks {
				_, err := idx.Get(ctx, b.CID)
				require.ErrorIs(t, err, types.ErrNotFound)
			}
			// the other part is unaffected
			for _, b := range working.Blocks {
				entry := testutil.Must(idx.Get(ctx, b.CID))(t)
				require.Equal(t, working.location, entry.Location)
			}
		})
	}
}

func TestResolveIndexRange(t *testing.T) {
	ctx := context.Background()
	objs := newObjectServer(t)
	shard := testutil.RandomShard(4, 64)
	indexBytes, indexCID := shard.Index()

	// the index is stored within a larger object
	padding := testutil.RandomBytes(100)
	packed := append(append(append([]byte{}, padding...), indexBytes...), testutil.RandomBytes(50)...)
	packLocation := objs.put(t, "/pack", packed)
	shardLocation := objs.put(t, "/shard.car", shard.Bytes)
	length := uint64(len(indexBytes))

	root := dagRoot(shard)
	dlgs := []delegation.Delegation{
		testutil.PartitionDelegation(root, shard.CID),
		testutil.LocationDelegation(shard.CID, shardLocation, nil),
		testutil.InclusionDelegation(shard.CID, indexCID),
		testutil.LocationDelegation(indexCID, packLocation, &claims.Range{Offset: uint64(len(padding)), Length: &length}),
	}

	mockClaims := &mockClaims{}
	mockClaims.On("Read", extmocks.AnyContext, root.Hash(), walk).Return(claimsOf(t, dlgs...), nil).Once()

	idx := index.New(mockClaims)
	res := testutil.Must(idx.Resolve(ctx, root))(t)
	require.Empty(t, res.Gaps)
	for _, b := range shard.Blocks {
		entry := testutil.Must(idx.Get(ctx, b.CID))(t)
		require.Equal(t, b.Offset, entry.Offset)
		require.Equal(t, shardLocation, entry.Location)
	}
}

func TestResolveDoesNotOverwriteEntries(t *testing.T) {
	ctx := context.Background()
	objs := newObjectServer(t)
	shard := testutil.RandomShard(3, 64)
	first := storeShard(t, objs, shard)
	// the same blocks stored again under another location
	second := storedShard{
		Shard:         shard,
		location:      objs.put(t, "/copy.car", shard.Bytes),
		index:         first.index,
		indexLocation: first.indexLocation,
	}

	root1 := dagRoot(shard)
	root2 := cid.NewCidV1(uint64(multicodec.DagCbor), shard.Blocks[1].CID.Hash())
	copyCID := testutil.RawCID(append([]byte("copy"), shard.Bytes...))

	mockClaims := &mockClaims{}
	mockClaims.On("Read", extmocks.AnyContext, root1.Hash(), walk).
		Return(claimsOf(t, append([]delegation.Delegation{testutil.PartitionDelegation(root1, first.CID)}, shardClaims(first)...)...), nil).Once()
	mockClaims.On("Read", extmocks.AnyContext, root2.Hash(), walk).
		Return(claimsOf(t,
			testutil.PartitionDelegation(root2, copyCID),
			testutil.LocationDelegation(copyCID, second.location, nil),
			testutil.InclusionDelegation(copyCID, second.index),
			testutil.LocationDelegation(second.index, second.indexLocation, nil),
		), nil).Once()

	idx := index.New(mockClaims)
	testutil.Must(idx.Get(ctx, root1))(t)
	entry := testutil.Must(idx.Get(ctx, root2))(t)
	require.Equal(t, first.location, entry.Location)
	for _, b := range shard.Blocks {
		entry := testutil.Must(idx.Get(ctx, b.CID))(t)
		require.Equal(t, first.location, entry.Location)
	}
	mockClaims.AssertNumberOfCalls(t, "Read", 2)
}

func TestResolveConcurrentDedup(t *testing.T) {
	ctx := context.Background()
	objs := newObjectServer(t)
	shard := storeShard(t, objs, testutil.RandomShard(8, 64))
	root := dagRoot(shard.Shard)
	dlgs := append([]delegation.Delegation{testutil.PartitionDelegation(root, shard.CID)}, shardClaims(shard)...)

	mockClaims := &mockClaims{}
	mockClaims.On("Read", extmocks.AnyContext, root.Hash(), walk).
		After(50*time.Millisecond).
		Return(claimsOf(t, dlgs...), nil).
		Once()

	idx := index.New(mockClaims, index.WithConcurrency(2))
	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = idx.Get(ctx, root)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	mockClaims.AssertNumberOfCalls(t, "Read", 1)
}

func TestResolveCancelled(t *testing.T) {
	content := testutil.RandomCID()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mockClaims := &mockClaims{}
	idx := index.New(mockClaims)
	_, err := idx.Get(ctx, content)
	require.ErrorIs(t, err, context.Canceled)
	mockClaims.AssertNotCalled(t, "Read", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveSharedReadOutlivesCancelledCaller(t *testing.T) {
	objs := newObjectServer(t)
	shard := storeShard(t, objs, testutil.RandomShard(2, 64))
	root := dagRoot(shard.Shard)
	dlgs := append([]delegation.Delegation{testutil.PartitionDelegation(root, shard.CID)}, shardClaims(shard)...)

	entered := make(chan struct{})
	release := make(chan struct{})
	var readCtxErr error
	mockClaims := &mockClaims{}
	mockClaims.On("Read", extmocks.AnyContext, root.Hash(), walk).
		Run(func(args mock.Arguments) {
			close(entered)
			<-release
			readCtxErr = args.Get(0).(context.Context).Err()
		}).
		Return(claimsOf(t, dlgs...), nil).
		Once()

	idx := index.New(mockClaims)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := idx.Get(firstCtx, root)
		firstErr <- err
	}()
	<-entered

	var second types.IndexEntry
	secondErr := make(chan error, 1)
	go func() {
		var err error
		second, err = idx.Get(context.Background(), root)
		secondErr <- err
	}()
	// let the second caller join the in flight read
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	require.NoError(t, <-secondErr)
	require.Equal(t, shard.location, second.Location)
	require.NoError(t, readCtxErr)
	mockClaims.AssertNumberOfCalls(t, "Read", 1)
}
