// Package pinterest implements the AccountProvider port against Pinterest's
// web resource API. Sessions are cookie jars obtained from an external auth
// broker, held in memory per user and optionally persisted to a directory.
package pinterest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
	"github.com/ericfisherdev/moodlink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AccountProvider = (*Client)(nil)

const (
	endBookmark          = "-end-"
	defaultMaxBoardPages = 20
	defaultTimeout       = 30 * time.Second
	boardsPageSize       = 50
	feedPageSize         = 25
	maxErrorBody         = 64 << 10
)

// maxResponseBody bounds how much of a successful resource response is read.
var maxResponseBody int64 = 16 << 20

// Config configures a Client.
type Config struct {
	BaseURL string
	AuthURL string
	// RPS caps outbound requests per second across all users. Zero disables
	// the limit.
	RPS           float64
	MaxBoardPages int
	Timeout       time.Duration
	// Transport is the innermost round tripper; nil uses http.DefaultTransport.
	Transport http.RoundTripper
	// SessionDir, if set, persists each user's cookies so a restarted
	// process resumes sessions without a new broker login.
	SessionDir string
	// Cipher seals persisted session files. Nil writes them in cleartext.
	Cipher driven.SecretCipher
}

// Client implements driven.AccountProvider. Each user gets an isolated
// transport stack:
//  1. httpcache (per-user memory cache, ETag revalidation)
//  2. rate limiter (shared by all users)
//  3. the configured base transport
type Client struct {
	baseURL       *url.URL
	authURL       string
	limited       http.RoundTripper
	timeout       time.Duration
	maxBoardPages int
	logger        *slog.Logger
	dir           *sessionDir

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	userID   string
	username string
	jar      *cookiejar.Jar
	http     *http.Client

	// saved is the cookie fingerprint last written to the session dir.
	saved string
}

// NewClient creates a Client. AuthURL is required; logins fail without it.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid pinterest base url %q", cfg.BaseURL)
	}

	next := cfg.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxPages := cfg.MaxBoardPages
	if maxPages <= 0 {
		maxPages = defaultMaxBoardPages
	}

	var dir *sessionDir
	if cfg.SessionDir != "" {
		if dir, err = newSessionDir(cfg.SessionDir, cfg.Cipher); err != nil {
			return nil, err
		}
	}

	return &Client{
		dir:           dir,
		baseURL:       base,
		authURL:       cfg.AuthURL,
		limited:       &rateLimitedTransport{limiter: newLimiter(cfg.RPS), next: next},
		timeout:       timeout,
		maxBoardPages: maxPages,
		logger:        logger,
		sessions:      make(map[string]*session),
	}, nil
}

type brokerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type brokerCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

type brokerResponse struct {
	Cookies []brokerCookie `json:"cookies"`
	Error   string         `json:"error"`
}

// Login exchanges the stored credential for session cookies at the auth
// broker and replaces the user's session. A failed login leaves any existing
// session in place.
func (c *Client) Login(ctx context.Context, record model.CredentialRecord) error {
	if c.authURL == "" {
		return fmt.Errorf("login %q: pinterest auth broker is not configured", record.UserID)
	}

	body, err := json.Marshal(brokerRequest{Username: record.Username, Email: record.Contact, Password: record.Secret})
	if err != nil {
		return fmt.Errorf("encode login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := (&http.Client{Transport: c.limited, Timeout: c.timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("login %q: %w", record.UserID, err)
	}
	defer resp.Body.Close()

	var out brokerResponse
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &out) == nil && out.Error != "" {
			msg = out.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if len(out.Cookies) == 0 {
		return fmt.Errorf("login %q: auth broker returned no cookies", record.UserID)
	}

	sess, err := c.newSession(record.UserID, record.Username, out.Cookies)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sessions[record.UserID] = sess
	c.mu.Unlock()
	c.persist(sess)

	c.logger.Debug("pinterest session established", "user_id", record.UserID, "cookies", len(out.Cookies))
	return nil
}

// newSession builds a user's cookie jar and transport stack.
func (c *Client) newSession(userID, username string, cookies []brokerCookie) (*session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	hc := make([]*http.Cookie, 0, len(cookies))
	for _, bc := range cookies {
		path := bc.Path
		if path == "" {
			path = "/"
		}
		hc = append(hc, &http.Cookie{Name: bc.Name, Value: bc.Value, Domain: bc.Domain, Path: path})
	}
	jar.SetCookies(c.baseURL, hc)

	cache := httpcache.NewMemoryCacheTransport()
	cache.Transport = c.limited

	return &session{
		userID:   userID,
		username: username,
		jar:      jar,
		http:     &http.Client{Transport: cache, Jar: jar, Timeout: c.timeout},
	}, nil
}

// persist writes the session's current cookies when they differ from what
// was last saved. Failures are logged; the in-memory session stays usable.
func (c *Client) persist(sess *session) {
	if c.dir == nil {
		return
	}

	jarCookies := sess.jar.Cookies(c.baseURL)
	cookies := make([]brokerCookie, 0, len(jarCookies))
	var fp strings.Builder
	for _, ck := range jarCookies {
		cookies = append(cookies, brokerCookie{Name: ck.Name, Value: ck.Value, Path: "/"})
		fp.WriteString(ck.Name + "=" + ck.Value + ";")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if fp.String() == sess.saved {
		return
	}
	if err := c.dir.save(sess.userID, storedSession{Username: sess.username, Cookies: cookies}); err != nil {
		c.logger.Warn("failed to persist pinterest session", "user_id", sess.userID, "error", err)
		return
	}
	sess.saved = fp.String()
}

// Probe fetches the user resource, bypassing the cache.
func (c *Client) Probe(ctx context.Context, userID string) error {
	sess, err := c.session(userID)
	if err != nil {
		return err
	}
	defer c.persist(sess)
	_, err = c.resource(ctx, sess, "UserResource", map[string]any{"username": sess.username}, "/"+sess.username+"/", true)
	return err
}

type boardJSON struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	PinCount          int    `json:"pin_count"`
	URL               string `json:"url"`
	ImageThumbnailURL string `json:"image_thumbnail_url"`
	Privacy           string `json:"privacy"`
}

// ListBoards follows the boards resource until Pinterest reports the end.
func (c *Client) ListBoards(ctx context.Context, userID, username string) ([]model.Collection, error) {
	sess, err := c.session(userID)
	if err != nil {
		return nil, err
	}
	defer c.persist(sess)

	var out []model.Collection
	bookmark := ""
	for page := 0; page < c.maxBoardPages; page++ {
		opts := map[string]any{
			"username":       username,
			"page_size":      boardsPageSize,
			"privacy_filter": "all",
			"sort":           "custom",
			"field_set_key":  "profile_grid_item",
		}
		if bookmark != "" {
			opts["bookmarks"] = []string{bookmark}
		}

		res, err := c.resource(ctx, sess, "BoardsResource", opts, "/"+username+"/boards/", false)
		if err != nil {
			return nil, fmt.Errorf("list boards for %s (page %d): %w", username, page, err)
		}

		var boards []boardJSON
		if err := unmarshalData(res.data, &boards); err != nil {
			return nil, fmt.Errorf("decode boards: %w", err)
		}
		for _, b := range boards {
			out = append(out, model.Collection{
				ID:           b.ID,
				Name:         b.Name,
				Description:  b.Description,
				ItemCount:    b.PinCount,
				URL:          b.URL,
				ThumbnailURL: b.ImageThumbnailURL,
				Visibility:   b.Privacy,
			})
		}

		if res.bookmark == "" || res.bookmark == endBookmark || len(boards) == 0 {
			if out == nil {
				out = []model.Collection{}
			}
			return out, nil
		}
		bookmark = res.bookmark
	}
	return nil, fmt.Errorf("list boards for %s: %w after %d pages", username, ErrTooManyPages, c.maxBoardPages)
}

type pinImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type pinJSON struct {
	ID            string              `json:"id"`
	Title         string              `json:"title"`
	GridTitle     string              `json:"grid_title"`
	Description   string              `json:"description"`
	Link          string              `json:"link"`
	DominantColor string              `json:"dominant_color"`
	CreatedAt     string              `json:"created_at"`
	Images        map[string]pinImage `json:"images"`
}

// BoardFeedPage fetches one page of boardID's pins.
func (c *Client) BoardFeedPage(ctx context.Context, userID, boardID, cursor string) (model.ItemPage, error) {
	sess, err := c.session(userID)
	if err != nil {
		return model.ItemPage{}, err
	}
	defer c.persist(sess)

	opts := map[string]any{
		"board_id":  boardID,
		"page_size": feedPageSize,
	}
	if cursor != "" {
		opts["bookmarks"] = []string{cursor}
	}

	res, err := c.resource(ctx, sess, "BoardFeedResource", opts, "/", false)
	if err != nil {
		return model.ItemPage{}, fmt.Errorf("board feed %s: %w", boardID, err)
	}

	var pins []pinJSON
	if err := unmarshalData(res.data, &pins); err != nil {
		return model.ItemPage{}, fmt.Errorf("decode board feed: %w", err)
	}

	page := model.ItemPage{Items: make([]model.Item, 0, len(pins))}
	for _, p := range pins {
		if p.ID == "" {
			continue
		}
		page.Items = append(page.Items, mapPin(p))
	}
	if res.bookmark != endBookmark {
		page.Cursor = res.bookmark
	}
	return page, nil
}

func mapPin(p pinJSON) model.Item {
	title := p.Title
	if title == "" {
		title = p.GridTitle
	}
	item := model.Item{
		ID:            p.ID,
		Title:         title,
		Description:   p.Description,
		Link:          p.Link,
		DominantColor: p.DominantColor,
		CreatedAt:     p.CreatedAt,
	}
	for _, size := range []string{"orig", "736x", "474x", "236x"} {
		if img, ok := p.Images[size]; ok && img.URL != "" {
			item.ImageURL, item.ImageWidth, item.ImageHeight = img.URL, img.Width, img.Height
			break
		}
	}
	return item
}

// Forget drops the user's session, including its persisted copy.
func (c *Client) Forget(userID string) {
	c.mu.Lock()
	delete(c.sessions, userID)
	c.mu.Unlock()

	if c.dir != nil {
		if err := c.dir.remove(userID); err != nil {
			c.logger.Warn("failed to remove persisted pinterest session", "user_id", userID, "error", err)
		}
	}
}

// session returns the user's live session, restoring it from the session
// dir on first use after a restart.
func (c *Client) session(userID string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[userID]; ok {
		return sess, nil
	}
	if c.dir == nil {
		return nil, fmt.Errorf("user %q: %w", userID, ErrNoSession)
	}

	stored, ok, err := c.dir.load(userID)
	if err != nil {
		c.logger.Warn("discarding unreadable pinterest session", "user_id", userID, "error", err)
		return nil, fmt.Errorf("user %q: %w", userID, ErrNoSession)
	}
	if !ok {
		return nil, fmt.Errorf("user %q: %w", userID, ErrNoSession)
	}

	sess, err := c.newSession(userID, stored.Username, stored.Cookies)
	if err != nil {
		return nil, err
	}
	c.sessions[userID] = sess
	c.logger.Debug("pinterest session restored", "user_id", userID, "cookies", len(stored.Cookies))
	return sess, nil
}

type resourceEnvelope struct {
	ResourceResponse struct {
		Data     json.RawMessage `json:"data"`
		Bookmark string          `json:"bookmark"`
		Error    *struct {
			Message    string `json:"message"`
			HTTPStatus int    `json:"http_status"`
		} `json:"error"`
	} `json:"resource_response"`
	Resource struct {
		Options struct {
			Bookmarks []string `json:"bookmarks"`
		} `json:"options"`
	} `json:"resource"`
}

type resourceResult struct {
	data     json.RawMessage
	bookmark string
}

// resource performs GET /resource/{name}/get/ and unwraps the envelope.
func (c *Client) resource(ctx context.Context, sess *session, name string, options map[string]any, sourceURL string, noCache bool) (resourceResult, error) {
	data, err := json.Marshal(map[string]any{"options": options, "context": map[string]any{}})
	if err != nil {
		return resourceResult{}, fmt.Errorf("encode %s options: %w", name, err)
	}

	u := c.baseURL.JoinPath("resource", name, "get")
	u.Path += "/"
	u.RawQuery = url.Values{"source_url": {sourceURL}, "data": {string(data)}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return resourceResult{}, fmt.Errorf("create %s request: %w", name, err)
	}
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-APP-VERSION", "moodlink")
	if noCache {
		req.Header.Set("Cache-Control", "no-cache")
	}
	for _, ck := range sess.jar.Cookies(c.baseURL) {
		if ck.Name == "csrftoken" {
			req.Header.Set("X-CSRFToken", ck.Value)
		}
	}

	resp, err := sess.http.Do(req)
	if err != nil {
		return resourceResult{}, fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resourceResult{}, fmt.Errorf("read %s response: %w", name, err)
	}

	var env resourceEnvelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if decodeErr == nil && env.ResourceResponse.Error != nil {
			msg = env.ResourceResponse.Error.Message
		}
		if msg == "" {
			msg = strings.TrimSpace(string(raw[:min(len(raw), maxErrorBody)]))
		}
		return resourceResult{}, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return resourceResult{}, fmt.Errorf("decode %s response: %w", name, decodeErr)
	}
	if e := env.ResourceResponse.Error; e != nil {
		status := e.HTTPStatus
		if status == 0 {
			status = resp.StatusCode
		}
		return resourceResult{}, &APIError{StatusCode: status, Message: e.Message}
	}

	bookmark := env.ResourceResponse.Bookmark
	if bookmark == "" && len(env.Resource.Options.Bookmarks) > 0 {
		bookmark = env.Resource.Options.Bookmarks[0]
	}
	return resourceResult{data: env.ResourceResponse.Data, bookmark: bookmark}, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
