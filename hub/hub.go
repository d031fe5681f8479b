// Package hub fetches model checkpoint files from the HuggingFace hub into a
// local cache. Downloads are guarded by a cross-process file lock and
// optionally verified against pinned SHA-256 checksums.
package hub

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultModelRepo is the public SPLADE checkpoint used when no model is
	// named explicitly.
	DefaultModelRepo = "prithivida/Splade_PP_en_v1"

	defaultBaseURL = "https://huggingface.co"

	modelRemotePath     = "onnx/model.onnx"
	tokenizerRemotePath = "tokenizer.json"

	modelCacheFilename     = "model.onnx"
	tokenizerCacheFilename = "tokenizer.json"
)

// Pinned revision and checksums for the default checkpoint. Fetches of other
// repositories track their main branch and skip checksum verification.
const (
	spladePPEnV1Revision        = "762be6a7206e2f299182705972a65e5c46e62be2"
	spladePPEnV1ModelSHA256     = "0934583a27a031a66b2e847cbc260fbbef29689e969f500436460ef5146a43f2"
	spladePPEnV1TokenizerSHA256 = "2fc687b11de0bc1b3d8348f92e3b49ef1089a621506c7661fbf3248fcd54947e"
)

// Assets are the local paths of a fetched checkpoint.
type Assets struct {
	ModelPath     string
	TokenizerPath string
}

// Option configures a Client.
type Option func(*Client) error

// WithToken sets the bearer token sent with hub requests, for private model
// repositories. An empty token means unauthenticated access.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = strings.TrimSpace(token)
		return nil
	}
}

// WithCacheDir sets the directory assets are downloaded into.
func WithCacheDir(dir string) Option {
	return func(c *Client) error {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return fmt.Errorf("cache directory cannot be empty")
		}
		c.cacheDir = dir
		return nil
	}
}

// WithRevision pins the repository revision (branch, tag, or commit) to
// fetch. Default is "main", or the pinned commit for the default checkpoint.
func WithRevision(revision string) Option {
	return func(c *Client) error {
		revision = strings.TrimSpace(revision)
		if revision == "" {
			return fmt.Errorf("revision cannot be empty")
		}
		c.revision = revision
		return nil
	}
}

// WithHTTPClient overrides the HTTP client used for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		if client == nil {
			return fmt.Errorf("HTTP client cannot be nil")
		}
		c.httpClient = client
		return nil
	}
}

// WithBaseURL overrides the hub endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if baseURL == "" {
			return fmt.Errorf("base URL cannot be empty")
		}
		c.baseURL = baseURL
		return nil
	}
}

// Client downloads checkpoint assets. The zero value is not usable; create
// one with NewClient.
type Client struct {
	baseURL    string
	token      string
	cacheDir   string
	revision   string
	httpClient *http.Client
}

// NewClient creates a hub client with the user cache directory as the
// default asset cache.
func NewClient(opts ...Option) (*Client, error) {
	client := &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(client); err != nil {
			return nil, err
		}
	}

	if client.cacheDir == "" {
		userCacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve user cache directory: %w", err)
		}
		client.cacheDir = filepath.Join(userCacheDir, "splade-golden")
	}
	client.cacheDir = filepath.Clean(client.cacheDir)

	return client, nil
}

// EnsureAssets returns local paths for the repository's ONNX model and
// tokenizer, downloading whichever is missing from the cache. Concurrent
// processes fetching the same repository serialize on a lock file.
func (c *Client) EnsureAssets(repo string) (Assets, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return Assets{}, fmt.Errorf("model repository cannot be empty")
	}

	revision := c.revision
	modelSHA := ""
	tokenizerSHA := ""
	if repo == DefaultModelRepo {
		if revision == "" {
			revision = spladePPEnV1Revision
		}
		if revision == spladePPEnV1Revision {
			modelSHA = spladePPEnV1ModelSHA256
			tokenizerSHA = spladePPEnV1TokenizerSHA256
		}
	}
	if revision == "" {
		revision = "main"
	}

	assetDir := filepath.Join(c.cacheDir, "checkpoints", sanitizePathSegment(repo), sanitizePathSegment(revision))
	assets := Assets{
		ModelPath:     filepath.Join(assetDir, modelCacheFilename),
		TokenizerPath: filepath.Join(assetDir, tokenizerCacheFilename),
	}

	if err := os.MkdirAll(assetDir, 0o755); err != nil {
		return Assets{}, fmt.Errorf("failed to create asset cache directory %q: %w", assetDir, err)
	}

	lockPath := filepath.Join(c.cacheDir, ".locks", sanitizePathSegment(repo)+".lock")
	err := withFileLock(lockPath, func() error {
		if err := c.ensureFile(assets.ModelPath, c.resolveURL(repo, revision, modelRemotePath), modelSHA); err != nil {
			return err
		}
		return c.ensureFile(assets.TokenizerPath, c.resolveURL(repo, revision, tokenizerRemotePath), tokenizerSHA)
	})
	if err != nil {
		return Assets{}, err
	}
	return assets, nil
}

func (c *Client) resolveURL(repo string, revision string, remotePath string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.baseURL, repo, revision, remotePath)
}

// ensureFile makes destPath present and valid, downloading it when missing
// or when a cached copy fails checksum verification.
func (c *Client) ensureFile(destPath string, assetURL string, expectedSHA string) error {
	if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
		if expectedSHA == "" {
			return nil
		}
		if err := verifyFileSHA256(destPath, expectedSHA); err == nil {
			return nil
		}
		if removeErr := os.Remove(destPath); removeErr != nil {
			return fmt.Errorf("failed to remove stale cached asset %q: %w", destPath, removeErr)
		}
	}

	if err := c.downloadFile(destPath, assetURL); err != nil {
		return err
	}
	if expectedSHA != "" {
		if err := verifyFileSHA256(destPath, expectedSHA); err != nil {
			_ = os.Remove(destPath)
			return fmt.Errorf("downloaded asset failed checksum validation: %w", err)
		}
	}
	return nil
}

func (c *Client) downloadFile(destPath string, assetURL string) (err error) {
	request, err := http.NewRequest(http.MethodGet, assetURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request for %q: %w", assetURL, err)
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("failed to download %q: %w", assetURL, err)
	}
	defer func() {
		closeErr := response.Body.Close()
		if err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	if response.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		snippet = []byte(strings.TrimSpace(string(snippet)))
		if len(snippet) > 0 {
			return fmt.Errorf("failed to download %q: HTTP %d: %s", assetURL, response.StatusCode, string(snippet))
		}
		return fmt.Errorf("failed to download %q: HTTP %d", assetURL, response.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %q: %w", destPath, err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".download-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary download file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	written, copyErr := io.Copy(tmpFile, response.Body)
	closeErr := tmpFile.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to write %q: %w", tmpPath, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %q: %w", tmpPath, closeErr)
	}
	if written == 0 {
		return fmt.Errorf("downloaded asset from %q is empty", assetURL)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to install downloaded asset to %q: %w", destPath, err)
	}
	success = true
	return nil
}

func verifyFileSHA256(path string, expected string) (err error) {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := file.Close()
		if err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return err
	}

	actual := hex.EncodeToString(hash.Sum(nil))
	expected = strings.ToLower(strings.TrimSpace(expected))
	if actual != expected {
		return fmt.Errorf("sha256 mismatch for %s: got %s want %s", path, actual, expected)
	}
	return nil
}

// sanitizePathSegment flattens a repository id or revision into a single
// filesystem path segment.
func sanitizePathSegment(segment string) string {
	replacer := strings.NewReplacer("/", "--", "\\", "--", ":", "-")
	return replacer.Replace(segment)
}

func withFileLock(lockPath string, fn func() error) (err error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory for %q: %w", lockPath, err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lock file %q: %w", lockPath, err)
	}

	if err := lockFile(file); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to acquire lock %q: %w", lockPath, err)
	}

	defer func() {
		unlockErr := unlockFile(file)
		closeErr := file.Close()
		if err == nil && unlockErr != nil {
			err = unlockErr
		}
		if err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	return fn()
}
