// Package profiles is the profile-directory collaborator. It batch-resolves
// user ids to display profiles for decorating listings, with a Redis cache
// in front of the upstream HTTP service.
package profiles

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bazaarhq/conversation-service/internal/httpclient"
)

const cacheTTL = 5 * time.Minute

type Profile struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type Directory struct {
	base  string
	http  *httpclient.Client
	cache *redis.Client
	log   *zap.SugaredLogger
}

// NewDirectory builds a directory client. cache may be nil, in which case
// every call goes upstream.
func NewDirectory(baseURL string, hc *httpclient.Client, cache *redis.Client, logger *zap.SugaredLogger) *Directory {
	return &Directory{base: strings.TrimRight(baseURL, "/"), http: hc, cache: cache, log: logger}
}

// ResolveProfiles returns a profile per resolvable user id. Missing ids are
// simply absent from the result; callers fall back to the raw id.
func (d *Directory) ResolveProfiles(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	out := make(map[string]Profile, len(userIDs))
	missing := make([]string, 0, len(userIDs))

	for _, id := range userIDs {
		if p, ok := d.cached(ctx, id); ok {
			out[id] = p
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := d.fetch(ctx, missing)
	if err != nil {
		if len(out) > 0 {
			// partial cache hit is better than nothing
			d.log.Warnw("profile fetch failed, serving cached subset", "err", err)
			return out, nil
		}
		return nil, err
	}
	for id, p := range fetched {
		out[id] = p
		d.store(ctx, id, p)
	}
	return out, nil
}

// Resolve satisfies the service.NameResolver port.
func (d *Directory) Resolve(ctx context.Context, userIDs []string) (map[string]string, error) {
	ps, err := d.ResolveProfiles(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(ps))
	for id, p := range ps {
		out[id] = p.DisplayName
	}
	return out, nil
}

func (d *Directory) fetch(ctx context.Context, ids []string) (map[string]Profile, error) {
	u := fmt.Sprintf("%s/v1/profiles?ids=%s", d.base, url.QueryEscape(strings.Join(ids, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.DoWithRetry(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("profile directory: %w", err)
	}
	defer resp.Body.Close()
	var body struct {
		Profiles map[string]Profile `json:"profiles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	return body.Profiles, nil
}

func (d *Directory) cached(ctx context.Context, id string) (Profile, bool) {
	if d.cache == nil {
		return Profile{}, false
	}
	raw, err := d.cache.Get(ctx, cacheKey(id)).Result()
	if err != nil {
		return Profile{}, false
	}
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Profile{}, false
	}
	return p, true
}

func (d *Directory) store(ctx context.Context, id string, p Profile) {
	if d.cache == nil {
		return
	}
	b, _ := json.Marshal(p)
	if err := d.cache.Set(ctx, cacheKey(id), b, cacheTTL).Err(); err != nil {
		d.log.Debugw("profile cache set", "user_id", id, "err", err)
	}
}

func cacheKey(id string) string { return "profile:" + id }
