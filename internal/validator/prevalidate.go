package validator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Prevalidation is the outcome of the cheap pre-screen that runs before a
// submission may reach a human reviewer.
type Prevalidation struct {
	OK       bool     `json:"ok"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Prevalidator screens unstructured proof (file uploads, URLs) so reviewers
// only ever see plausible submissions.
type Prevalidator struct {
	MaxFileSizeMB int
	ProbeTimeout  time.Duration
	// HTTP performs the reachability probe; overridable in tests.
	HTTP *http.Client
}

func NewPrevalidator(maxFileSizeMB int, probeTimeout time.Duration) *Prevalidator {
	return &Prevalidator{
		MaxFileSizeMB: maxFileSizeMB,
		ProbeTimeout:  probeTimeout,
		HTTP:          &http.Client{Timeout: probeTimeout},
	}
}

// Screen pre-validates a proof payload for the given proof type. Structured
// proof types (repository, quiz, none) pass through untouched; their own
// validators do the real work.
func (p *Prevalidator) Screen(ctx context.Context, proofType string, payload Payload) Prevalidation {
	switch proofType {
	case ProofFile:
		return p.screenFile(payload)
	case ProofURL:
		return p.screenURL(ctx, payload)
	default:
		return Prevalidation{OK: true}
	}
}

func (p *Prevalidator) screenFile(payload Payload) Prevalidation {
	if strings.TrimSpace(payload.FilePath) == "" {
		return Prevalidation{Reason: "file proof requires a file path"}
	}
	size := payload.FileSizeBytes
	if size == 0 {
		if fi, err := os.Stat(payload.FilePath); err == nil {
			size = fi.Size()
		}
	}
	maxBytes := int64(p.MaxFileSizeMB) * 1024 * 1024
	if size > maxBytes {
		return Prevalidation{Reason: fmt.Sprintf("file exceeds the %dMB limit", p.MaxFileSizeMB)}
	}
	return Prevalidation{OK: true}
}

func (p *Prevalidator) screenURL(ctx context.Context, payload Payload) Prevalidation {
	raw := strings.TrimSpace(payload.URL)
	if raw == "" {
		return Prevalidation{Reason: "url proof requires a url"}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Prevalidation{Reason: fmt.Sprintf("not a valid http(s) url: %s", raw)}
	}
	probeCtx, cancel := context.WithTimeout(ctx, p.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, u.String(), nil)
	if err != nil {
		return Prevalidation{Reason: fmt.Sprintf("cannot probe url: %v", err)}
	}
	res, err := p.HTTP.Do(req)
	if err != nil {
		// Unreachable or slow hosts are not the submitter's fault; a human
		// still gets to look at it.
		if errors.Is(err, context.DeadlineExceeded) || probeCtx.Err() != nil {
			return Prevalidation{OK: true, Warnings: []string{"url probe timed out; forwarded to review unverified"}}
		}
		return Prevalidation{OK: true, Warnings: []string{fmt.Sprintf("url probe failed (%v); forwarded to review unverified", err)}}
	}
	defer res.Body.Close()
	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return Prevalidation{Reason: fmt.Sprintf("url returned %d", res.StatusCode)}
	case res.StatusCode >= 500:
		return Prevalidation{OK: true, Warnings: []string{fmt.Sprintf("url returned %d; forwarded to review unverified", res.StatusCode)}}
	default:
		return Prevalidation{OK: true}
	}
}
