// Package embedclient wraps the OpenAI Embeddings API with the rate
// limiting, retry, caching, and zero-vector short-circuit spec component C8
// requires. The client construction and retry-loop shape are grounded on
// the teacher's OpenAIProvider in internal/ai/openai.go; the limiter and
// backoff come from internal/ratelimit.
package embedclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tomas/slidemanager-daemon/internal/constants"
	"github.com/tomas/slidemanager-daemon/internal/ratelimit"
	"github.com/tomas/slidemanager-daemon/internal/store"
)

// MaxRetries bounds the retry loop on transient failures (spec 4.8).
const MaxRetries = 5

// CacheLookup resolves a (model, text_sig) pair to a previously cached
// vector, matching Store's embedding_cache_text table. Returns ok=false on
// a cache miss.
type CacheLookup func(ctx context.Context, model, textSig string) (dim int, vector []byte, ok bool, err error)

// Client calls OpenAI's embeddings endpoint, cooperating with a RateLimiter
// and an embedding cache so identical text is only ever embedded once.
type Client struct {
	sdk     *openai.Client
	limiter *ratelimit.Limiter
	lookup  CacheLookup

	mu        sync.Mutex
	rng       *rand.Rand
	callCount int
	knownDims map[string]int
}

// New constructs a Client. rngSeed lets tests pin the jitter source (spec
// 4.3's "jitter drawn from a seedable source").
func New(apiKey string, limiter *ratelimit.Limiter, lookup CacheLookup, rngSeed int64) *Client {
	return NewWithOptions(limiter, lookup, rngSeed, option.WithAPIKey(apiKey))
}

// NewWithOptions builds a Client from caller-supplied SDK request options
// instead of a bare API key, so tests can point the embeddings endpoint at
// a local httptest server (via option.WithBaseURL) instead of the real
// OpenAI API.
func NewWithOptions(limiter *ratelimit.Limiter, lookup CacheLookup, rngSeed int64, opts ...option.RequestOption) *Client {
	sdk := openai.NewClient(opts...)
	return &Client{
		sdk:       &sdk,
		limiter:   limiter,
		lookup:    lookup,
		rng:       rand.New(rand.NewSource(rngSeed)),
		knownDims: make(map[string]int),
	}
}

// CallCount reports how many upstream embeddings.create calls this client
// has issued, used by tests asserting cache-dedup behavior (spec §8
// testable property #3).
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callCount
}

// EstimateTokens implements estimate_tokens(s): a rough 4-bytes-per-token
// heuristic floored at 1 (spec 4.8 requires ≥1 for any input, including
// empty — though empty input never reaches this path via embed_text_batch).
func EstimateTokens(s string) int {
	n := len(s) / 4
	if n < 1 {
		return 1
	}
	return n
}

// KnownDim returns the dimension currently recorded for model, if any. A
// successful remote call or a first CheckDim records it; each later
// successful remote call overwrites it with the dimension it returned.
func (c *Client) KnownDim(model string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.knownDims[model]
	return d, ok
}

// EmbedOne embeds a single (already-normalized) text against model,
// honoring the cache, the zero-vector short-circuit, the rate limiter, and
// retry-with-backoff on transient failures. textSig is the caller-computed
// content-address used for cache lookups and the cache row on insert.
func (c *Client) EmbedOne(ctx context.Context, model, text, textSig string) (dim int, vector []byte, err error) {
	if strings.TrimSpace(text) == "" {
		dim, _ := c.KnownDim(model)
		if dim == 0 {
			dim = 1 // placeholder until a real call has ever discovered a dim
		}
		return dim, store.ZeroVector(dim), nil
	}

	if c.lookup != nil {
		if cachedDim, cachedVec, ok, err := c.lookup(ctx, model, textSig); err != nil {
			return 0, nil, fmt.Errorf("embedding cache lookup: %w", err)
		} else if ok {
			return cachedDim, cachedVec, nil
		}
	}

	tokCost := EstimateTokens(text)
	var lastErr error
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		if err := c.limiter.Acquire(ctx, 1, tokCost); err != nil {
			return 0, nil, fmt.Errorf("rate limiter acquire: %w", err)
		}

		vec, apiErr := c.callEmbeddingsAPI(ctx, model, text)
		if apiErr == nil {
			c.mu.Lock()
			c.knownDims[model] = len(vec)
			c.mu.Unlock()
			return len(vec), store.EncodeVector(vec), nil
		}

		classified := ratelimit.Classify(apiErr, httpStatusOf(apiErr))
		lastErr = classified
		if !classified.Retryable {
			return 0, nil, classified
		}

		delay := ratelimit.Delay(c.rng, attempt)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, nil, ctx.Err()
		case <-t.C:
		}
	}
	return 0, nil, fmt.Errorf("embedding call exhausted %d retries: %w", MaxRetries, lastErr)
}

// EmbedImage embeds the JPEG thumbnail at imagePath as a base64 data URI,
// sharing the rate limiter and retry/backoff logic with EmbedOne. Image
// embeddings are never content-addressed: two distinct slides rarely render
// to byte-identical thumbnails, so there's no cache to consult.
func (c *Client) EmbedImage(ctx context.Context, model, imagePath string) (dim int, vector []byte, err error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return 0, nil, fmt.Errorf("read thumbnail %s: %w", imagePath, err)
	}
	dataURI := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)

	var lastErr error
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		if err := c.limiter.Acquire(ctx, 1, EstimateTokens(dataURI)); err != nil {
			return 0, nil, fmt.Errorf("rate limiter acquire: %w", err)
		}

		vec, apiErr := c.callEmbeddingsAPI(ctx, model, dataURI)
		if apiErr == nil {
			c.mu.Lock()
			c.knownDims[model] = len(vec)
			c.mu.Unlock()
			return len(vec), store.EncodeVector(vec), nil
		}

		classified := ratelimit.Classify(apiErr, httpStatusOf(apiErr))
		lastErr = classified
		if !classified.Retryable {
			return 0, nil, classified
		}

		delay := ratelimit.Delay(c.rng, attempt)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, nil, ctx.Err()
		case <-t.C:
		}
	}
	return 0, nil, fmt.Errorf("image embedding call exhausted %d retries: %w", MaxRetries, lastErr)
}

func (c *Client) callEmbeddingsAPI(ctx context.Context, model, text string) ([]float32, error) {
	c.mu.Lock()
	c.callCount++
	c.mu.Unlock()

	resp, err := c.sdk.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: model,
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embeddings response for model %s contained no data", model)
	}

	floats := resp.Data[0].Embedding
	out := make([]float32, len(floats))
	for i, f := range floats {
		out[i] = float32(f)
	}
	return out, nil
}

// httpStatusOf extracts the HTTP status from an openai-go error, defaulting
// to 0 (unknown, e.g. network failure) when the error doesn't carry one.
func httpStatusOf(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// CheckDim reports whether dim matches the dimension currently recorded for
// model (spec 9's EMBED_DIM_MISMATCH resolution). When none is recorded, dim
// is accepted and recorded. EmbedOne and EmbedImage overwrite the recorded
// dimension after every successful remote call, so a freshly embedded
// vector always passes; a mismatch is reported when a dim obtained
// elsewhere, such as a cached vector, differs from the latest recorded one.
func (c *Client) CheckDim(model string, dim int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	known, ok := c.knownDims[model]
	if !ok {
		c.knownDims[model] = dim
		return nil
	}
	if known != dim {
		return &DimMismatchError{Model: model, Expected: known, Got: dim}
	}
	return nil
}

// DimMismatchError is raised when a read observes a vector dimension that
// disagrees with the model's previously discovered dimension.
type DimMismatchError struct {
	Model            string
	Expected, Got    int
}

func (e *DimMismatchError) Error() string {
	return fmt.Sprintf("%s: model %s expected dim %d, got %d", constants.ErrEmbedDimMismatch, e.Model, e.Expected, e.Got)
}
