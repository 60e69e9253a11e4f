// Package artifacts fetches code artefacts (WASM modules or scripts) over
// TLS from a content-addressed source, verifies them against a
// caller-supplied SHA-256 digest, and materializes them to a scratch file
// whose deletion is guaranteed on every exit path.
package artifacts

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/enclave/pkg/errs"
)

// Kind distinguishes the two artefact shapes named in the router surface.
type Kind string

const (
	KindWasm   Kind = "wasm"
	KindScript Kind = "script"
)

// Request describes one fetch-and-verify operation. Ephemeral: lives only
// for the duration of one execution.
type Request struct {
	SourceURL      string
	ExpectedSHA256 string
	Kind           Kind
}

// Handle owns a verified artefact written to a scratch path. Release must
// be called on every exit path (success, failure, or panic) -- typically
// via defer immediately after Fetch succeeds.
type Handle struct {
	Path  string
	Bytes []byte
}

// Release deletes the scratch file backing this handle. Safe to call more
// than once.
func (h *Handle) Release() error {
	if h == nil || h.Path == "" {
		return nil
	}
	err := os.Remove(h.Path)
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.Resource, "ScratchCleanup", err)
	}
	return nil
}

// Fetcher retrieves, verifies, and materializes artefacts.
type Fetcher struct {
	client     *http.Client
	scratchDir string
}

// TrustStorePath is the fixed system trust anchor path used to build the
// fetcher's TLS transport, per the reference deployment.
const TrustStorePath = "/etc/ssl/certs/ca-certificates.crt"

// NewFetcher builds a Fetcher whose TLS transport trusts only the system
// root CAs loaded from TrustStorePath, and whose scratch files are written
// under scratchDir.
func NewFetcher(scratchDir string) (*Fetcher, error) {
	pem, err := os.ReadFile(TrustStorePath)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "TrustStore", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errs.New(errs.Resource, "TrustStore", "no certificates parsed from trust store")
	}

	if err := os.MkdirAll(scratchDir, 0o700); err != nil {
		return nil, errs.Wrap(errs.Resource, "ScratchInit", err)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
	}

	return &Fetcher{
		client:     &http.Client{Transport: transport},
		scratchDir: scratchDir,
	}, nil
}

// Fetch downloads req.SourceURL (rewritten to a raw-content URL if it
// matches a known human-oriented host), hashes the exact bytes received,
// compares the digest to req.ExpectedSHA256 in constant time, and -- only
// on match -- writes the bytes to a unique scratch path.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Handle, error) {
	rawURL := rewriteToRawContentURL(req.SourceURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Format, "FetchRequest", err)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "FetchTransport", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.Resource, "FetchStatus",
			fmt.Sprintf("artifact fetch returned HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "FetchBody", err)
	}

	sum := sha256.Sum256(body)
	got := hex.EncodeToString(sum[:])
	want := strings.ToLower(req.ExpectedSHA256)

	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return nil, errs.New(errs.IntegrityVerify, "HashMismatch",
			fmt.Sprintf("artifact hash mismatch: got %s, expected %s", got, want))
	}

	path := filepath.Join(f.scratchDir, fmt.Sprintf("%s-%s", req.Kind, uuid.NewString()))
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return nil, errs.Wrap(errs.Resource, "ScratchWrite", err)
	}

	return &Handle{Path: path, Bytes: body}, nil
}

// UseClientForTest overrides the fetcher's HTTP client. Exported for tests
// that need to trust a test server's certificate without touching the
// fixed system trust store.
func (f *Fetcher) UseClientForTest(c *http.Client) {
	f.client = c
}

// RewriteToRawContentURLForTest exposes rewriteToRawContentURL to the
// package's external test suite.
func RewriteToRawContentURLForTest(u string) string {
	return rewriteToRawContentURL(u)
}

// rewriteToRawContentURL rewrites a human-oriented source-browsing URL
// (e.g. a GitHub blob view) into its raw-content equivalent. Unrecognized
// URLs are returned unchanged.
func rewriteToRawContentURL(u string) string {
	const (
		githubHost    = "github.com/"
		rawGithubHost = "raw.githubusercontent.com/"
		blobSegment   = "/blob/"
	)

	if !strings.Contains(u, githubHost) || !strings.Contains(u, blobSegment) {
		return u
	}

	rewritten := strings.Replace(u, githubHost, rawGithubHost, 1)
	rewritten = strings.Replace(rewritten, blobSegment, "/", 1)
	return rewritten
}
