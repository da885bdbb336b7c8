// Package config reads run settings from the environment the way a GitHub
// Action receives them: INPUT_<NAME> variables for action inputs (GitHub
// keeps the hyphens of the input name) and the GITHUB_* context variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	gh "github.com/google/go-github/v80/github"

	"github.com/odvcencio/sizeguard/pkg/history"
	"github.com/odvcencio/sizeguard/pkg/policy"
)

// Inputs are the action inputs. Defaults match the action's documented
// defaults.
type Inputs struct {
	MaxTextSizeKB   float64 `env:"INPUT_MAX-TEXT-SIZE-KB" envDefault:"500"`
	MaxBinarySizeKB float64 `env:"INPUT_MAX-BINARY-SIZE-KB" envDefault:"100"`
	PolicyPath      string  `env:"INPUT_POLICY-PATH" envDefault:".github/repo-size-guardian.yml"`
	FailOn          string  `env:"INPUT_FAIL-ON" envDefault:"error"`
	ScanMode        string  `env:"INPUT_SCAN-MODE" envDefault:"history"`
	DedupeBlobs     bool    `env:"INPUT_DEDUPE-BLOBS" envDefault:"true"`
	AnnotatePR      bool    `env:"INPUT_ANNOTATE-PR" envDefault:"true"`
	Backend         string  `env:"INPUT_BACKEND" envDefault:"auto"`
	Base            string  `env:"INPUT_BASE"`
	Head            string  `env:"INPUT_HEAD"`
	Token           string  `env:"INPUT_GITHUB-TOKEN"`

	GitHub GitHub
}

// GitHub holds the workflow context variables sizeguard reads.
type GitHub struct {
	Actions     bool   `env:"GITHUB_ACTIONS"`
	Workspace   string `env:"GITHUB_WORKSPACE"`
	Repository  string `env:"GITHUB_REPOSITORY"`
	EventName   string `env:"GITHUB_EVENT_NAME"`
	EventPath   string `env:"GITHUB_EVENT_PATH"`
	BaseRef     string `env:"GITHUB_BASE_REF"`
	SHA         string `env:"GITHUB_SHA"`
	APIURL      string `env:"GITHUB_API_URL"`
	StepSummary string `env:"GITHUB_STEP_SUMMARY"`
	Token       string `env:"GITHUB_TOKEN"`
}

// Load parses the process environment.
func Load() (*Inputs, error) {
	return parse(env.Options{})
}

// LoadFrom parses environ instead of the process environment.
func LoadFrom(environ map[string]string) (*Inputs, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Inputs, error) {
	var in Inputs
	if err := env.ParseWithOptions(&in, opts); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &in, nil
}

// Thresholds returns the global size limits as policy defaults.
func (in *Inputs) Thresholds() policy.Thresholds {
	return policy.Thresholds{MaxTextSizeKB: in.MaxTextSizeKB, MaxBinarySizeKB: in.MaxBinarySizeKB}
}

// FailOnSeverity parses FailOn.
func (in *Inputs) FailOnSeverity() (policy.Severity, error) {
	s, err := policy.ParseSeverity(in.FailOn)
	if err != nil {
		return "", fmt.Errorf("fail-on: %w", err)
	}
	return s, nil
}

// Mode parses ScanMode.
func (in *Inputs) Mode() (history.Mode, error) {
	m, err := history.ParseMode(in.ScanMode)
	if err != nil {
		return "", fmt.Errorf("scan-mode: %w", err)
	}
	return m, nil
}

// Validate checks every input that has a closed set of values.
func (in *Inputs) Validate() error {
	var errs []error
	if in.MaxTextSizeKB < 0 {
		errs = append(errs, fmt.Errorf("max-text-size-kb: must not be negative, got %v", in.MaxTextSizeKB))
	}
	if in.MaxBinarySizeKB < 0 {
		errs = append(errs, fmt.Errorf("max-binary-size-kb: must not be negative, got %v", in.MaxBinarySizeKB))
	}
	if _, err := in.FailOnSeverity(); err != nil {
		errs = append(errs, err)
	}
	if _, err := in.Mode(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(in.Backend) {
	case "", "auto", "native", "git":
	default:
		errs = append(errs, fmt.Errorf("backend: unknown backend %q (want auto, native or git)", in.Backend))
	}
	return errors.Join(errs...)
}

// GitHubToken returns the explicit token input, else GITHUB_TOKEN.
func (in *Inputs) GitHubToken() string {
	if in.Token != "" {
		return in.Token
	}
	return in.GitHub.Token
}

// Range is the pair of revisions a run compares.
type Range struct {
	Base, Head string
	// PullRequest is the pull request number, when known from the event.
	PullRequest int
}

// ResolveRange picks base and head: explicit inputs first, then the
// pull-request event payload, then origin/$GITHUB_BASE_REF against HEAD.
// An explicit value always wins over a discovered one.
func (in *Inputs) ResolveRange() (Range, error) {
	r := Range{Base: in.Base, Head: in.Head}

	if in.GitHub.EventPath != "" {
		ev, err := LoadPullRequestEvent(in.GitHub.EventPath)
		if err != nil {
			return Range{}, err
		}
		if pr := ev.GetPullRequest(); pr != nil {
			r.PullRequest = pr.GetNumber()
			if r.Base == "" {
				r.Base = pr.GetBase().GetSHA()
			}
			if r.Head == "" {
				r.Head = pr.GetHead().GetSHA()
			}
		}
	}
	if r.Base == "" && in.GitHub.BaseRef != "" {
		r.Base = "origin/" + in.GitHub.BaseRef
	}
	if r.Head == "" {
		r.Head = "HEAD"
	}
	if r.Base == "" {
		return Range{}, errors.New("no base revision: pass --base, or run on a pull_request event")
	}
	return r, nil
}

// LoadPullRequestEvent decodes the webhook payload at path. Payloads of
// other event types decode to an event without a pull request.
func LoadPullRequestEvent(path string) (*gh.PullRequestEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event payload: %w", err)
	}
	var ev gh.PullRequestEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode event payload %s: %w", path, err)
	}
	return &ev, nil
}
