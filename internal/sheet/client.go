package sheet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"sheetbot/internal/storage"
	logx "sheetbot/pkg/logx"
)

type ClientConfig struct {
	// SpreadsheetID is a spreadsheet key or a full document URL.
	SpreadsheetID string
	// CredentialsJSON is a service-account key (spreadsheets.readonly scope).
	CredentialsJSON string
	// Range is an A1 range on the first worksheet; first row is the header.
	Range string
}

// Client fetches rows from a Google spreadsheet. The API service is built
// lazily and rebuilt on Reload() so rotated credentials are picked up by the
// daily reload without restarting the process.
type Client struct {
	log   logx.Logger
	store storage.Store

	mu  sync.Mutex
	cfg ClientConfig
	svc *sheets.Service
	id  string
}

func NewClient(cfg ClientConfig, store storage.Store, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, store: store, log: log}
}

// Reload swaps credentials/spreadsheet settings and drops the current API
// service; the next fetch rebuilds it.
func (c *Client) Reload(cfg ClientConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.svc = nil
	c.id = ""
	c.mu.Unlock()
	c.log.Info("sheet client reloaded")
}

// SpreadsheetURL returns a link to the backing document (used in the morning
// announcement).
func (c *Client) SpreadsheetURL() string {
	c.mu.Lock()
	raw := c.cfg.SpreadsheetID
	c.mu.Unlock()
	if strings.Contains(raw, "https") {
		return raw
	}
	return "https://docs.google.com/spreadsheets/d/" + raw
}

func (c *Client) FetchRows(ctx context.Context) ([]Row, error) {
	svc, id, rng, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Spreadsheets.Values.Get(id, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("SERIAL_NUMBER").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets fetch: %w", err)
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}

	headers := make([]string, 0, len(resp.Values[0]))
	for _, h := range resp.Values[0] {
		headers = append(headers, strings.TrimSpace(fmt.Sprint(h)))
	}

	rows := make([]Row, 0, len(resp.Values)-1)
	for _, raw := range resp.Values[1:] {
		cells := make(map[string]any, len(headers))
		for i, h := range headers {
			if h == "" || i >= len(raw) {
				continue
			}
			cells[h] = raw[i]
		}
		rows = append(rows, Row{Headers: headers, Cells: cells})
	}
	return rows, nil
}

func (c *Client) service(ctx context.Context) (*sheets.Service, string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rng := strings.TrimSpace(c.cfg.Range)
	if rng == "" {
		rng = "A1:Z"
	}
	if c.svc != nil {
		return c.svc, c.id, rng, nil
	}

	if strings.TrimSpace(c.cfg.CredentialsJSON) == "" {
		return nil, "", "", errors.New("sheet credentials are empty")
	}
	id, err := extractSpreadsheetID(c.cfg.SpreadsheetID)
	if err != nil {
		return nil, "", "", err
	}

	jcfg, err := google.JWTConfigFromJSON([]byte(c.cfg.CredentialsJSON), sheets.SpreadsheetsReadonlyScope)
	if err != nil {
		return nil, "", "", fmt.Errorf("sheet credentials: %w", err)
	}

	var ts oauth2.TokenSource = jcfg.TokenSource(context.Background())
	if c.store != nil {
		ts = oauth2.ReuseTokenSource(nil, &cachedTokenSource{inner: ts, store: c.store, log: c.log})
	}

	svc, err := sheets.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, "", "", fmt.Errorf("sheets service: %w", err)
	}

	c.svc = svc
	c.id = id
	return svc, id, rng, nil
}

var spreadsheetURLRe = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`)

func extractSpreadsheetID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("spreadsheet id is empty")
	}
	if !strings.Contains(raw, "https") {
		return raw, nil
	}
	m := spreadsheetURLRe.FindStringSubmatch(raw)
	if m == nil {
		return "", fmt.Errorf("cannot extract spreadsheet id from %q", raw)
	}
	return m[1], nil
}

const tokenCacheKey = "sheets.access_token"

// cachedTokenSource persists the short-lived access token so the in-process
// daily reload does not burn a token exchange when the previous one is still
// valid. Purely an optimization; any cache failure falls through to a fresh
// token.
type cachedTokenSource struct {
	inner oauth2.TokenSource
	store storage.Store
	log   logx.Logger
}

func (s *cachedTokenSource) Token() (*oauth2.Token, error) {
	if b, ok, err := s.store.Get(context.Background(), tokenCacheKey); err == nil && ok {
		var tok oauth2.Token
		if json.Unmarshal(b, &tok) == nil && tok.Valid() && time.Until(tok.Expiry) > time.Minute {
			return &tok, nil
		}
	}

	tok, err := s.inner.Token()
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(tok); err == nil {
		if err := s.store.Put(context.Background(), tokenCacheKey, b); err != nil {
			s.log.Debug("token cache write failed", logx.Err(err))
		}
	}
	return tok, nil
}
