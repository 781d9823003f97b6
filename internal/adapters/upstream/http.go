package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/pkg/logger"
)

// maxParallelLookups bounds concurrent per-id lookups against one service.
const maxParallelLookups = 8

// apiResponse is the envelope every collaborator service answers with.
type apiResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Result  T      `json:"result"`
}

// client is a JSON over HTTP client bound to one service.
type client struct {
	base string
	http *http.Client
	now  func() time.Time
}

func newClient(base string, timeout time.Duration) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
		now:  time.Now,
	}
}

// do sends one request and decodes the envelope's result into out.
func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w: %v", path, ErrMalformed, err)
	}
	return nil
}

// HTTPProfiles reads profiles from the profile service.
type HTTPProfiles struct {
	c   *client
	log logger.Logger
}

// NewHTTPProfiles targets the profile service at base.
func NewHTTPProfiles(base string, timeout time.Duration) *HTTPProfiles {
	return &HTTPProfiles{c: newClient(base, timeout), log: logger.Named("upstream")}
}

// Profiles fetches each id in parallel. Ids the service does not know and
// profiles it answers unreadably are left out; any other failure fails the
// whole call.
func (p *HTTPProfiles) Profiles(ctx context.Context, ids []string) (map[string]model.UserProfile, error) {
	results := make([]*model.UserProfile, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLookups)
	for i, id := range ids {
		g.Go(func() error {
			var env apiResponse[model.UserProfile]
			err := p.c.do(gctx, http.MethodGet, "/internal/profiles/"+url.PathEscape(id), nil, &env)
			switch {
			case errors.Is(err, ErrNotFound):
				return nil
			case errors.Is(err, ErrMalformed):
				p.log.Warn(gctx, "skipping unreadable profile", logger.String("user_id", id), logger.Error(err))
				return nil
			case err != nil:
				return err
			}
			prof := env.Result
			if prof.ID == "" {
				prof.ID = id
			}
			if prof.FetchedAt.IsZero() {
				prof.FetchedAt = p.c.now().UTC()
			}
			results[i] = &prof
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]model.UserProfile, len(ids))
	for _, prof := range results {
		if prof != nil {
			out[prof.ID] = *prof
		}
	}
	return out, nil
}

// HTTPTasks reads tasks from the task service.
type HTTPTasks struct{ c *client }

// NewHTTPTasks targets the task service at base.
func NewHTTPTasks(base string, timeout time.Duration) *HTTPTasks {
	return &HTTPTasks{c: newClient(base, timeout)}
}

func (t *HTTPTasks) Task(ctx context.Context, id string) (model.TaskProfile, error) {
	var env apiResponse[model.TaskProfile]
	if err := t.c.do(ctx, http.MethodGet, "/internal/tasks/"+url.PathEscape(id), nil, &env); err != nil {
		return model.TaskProfile{}, err
	}
	task := env.Result
	if task.ID == "" {
		task.ID = id
	}
	if task.FetchedAt.IsZero() {
		task.FetchedAt = t.c.now().UTC()
	}
	return task, nil
}

// HTTPWorkloads reads workloads from the workload service.
type HTTPWorkloads struct {
	c   *client
	log logger.Logger
}

// NewHTTPWorkloads targets the workload service at base.
func NewHTTPWorkloads(base string, timeout time.Duration) *HTTPWorkloads {
	return &HTTPWorkloads{c: newClient(base, timeout), log: logger.Named("upstream")}
}

// Workloads fetches every id in one call. Unreadable entries are left out.
func (w *HTTPWorkloads) Workloads(ctx context.Context, ids []string) (map[string]model.Workload, error) {
	var env apiResponse[[]json.RawMessage]
	q := url.Values{"userIds": {strings.Join(ids, ",")}}
	if err := w.c.do(ctx, http.MethodGet, "/internal/workloads?"+q.Encode(), nil, &env); err != nil {
		return nil, err
	}
	out := make(map[string]model.Workload, len(env.Result))
	for _, raw := range env.Result {
		var wl model.Workload
		if err := json.Unmarshal(raw, &wl); err != nil {
			w.log.Warn(ctx, "skipping unreadable workload", logger.Error(err))
			continue
		}
		if wl.UserID != "" {
			out[wl.UserID] = wl
		}
	}
	return out, nil
}

// HTTPRecommender asks the external recommender to score candidates.
type HTTPRecommender struct{ c *client }

// NewHTTPRecommender targets the external recommender at base.
func NewHTTPRecommender(base string, timeout time.Duration) *HTTPRecommender {
	return &HTTPRecommender{c: newClient(base, timeout)}
}

type externalRequest struct {
	Task       model.TaskProfile         `json:"task"`
	Candidates []model.CandidateFeatures `json:"candidates"`
}

func (r *HTTPRecommender) Recommend(ctx context.Context, task model.TaskProfile, candidates []model.CandidateFeatures) ([]model.ExternalScore, error) {
	var env apiResponse[[]model.ExternalScore]
	body := externalRequest{Task: task, Candidates: candidates}
	if err := r.c.do(ctx, http.MethodPost, "/recommendations/task-assignment", body, &env); err != nil {
		return nil, err
	}
	return env.Result, nil
}
