// Package mayan talks to a Mayan EDMS instance over its REST API.
package mayan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"docgate/internal/access"
)

const (
	apiPrefix = "/api/v4"

	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = 30 * time.Second

	retryAttempts = 3
	retryDelay    = 200 * time.Millisecond

	// Mayan paginates every list; this bounds the pages followed for one document.
	maxPages = 20
)

// Config holds the connection settings.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Client is an access.DocumentRepository backed by Mayan EDMS. Cabinet
// membership is cached for CacheTTL.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	clock    clock.Clock
	cache    *cache.Cache
	logger   zerolog.Logger
}

var _ access.DocumentRepository = (*Client)(nil)

// NewClient returns a client for cfg. A nil clock means the wall clock.
func NewClient(cfg Config, clk clock.Clock, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: cfg.Timeout},
		clock:    clk,
		cache:    cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		logger:   logger.With().Str("component", "mayan").Logger(),
	}
}

type cabinetPage struct {
	Count   int    `json:"count"`
	Next    string `json:"next"`
	Results []struct {
		ID    uint   `json:"id"`
		Label string `json:"label"`
	} `json:"results"`
}

func cabinetsKey(documentID uint) string {
	return fmt.Sprintf("document_cabinets_%d", documentID)
}

// DocumentCabinets returns the cabinets holding the document. An unknown
// document is in no cabinet. Transport failures and server errors are
// retried, then reported as access.ErrUpstreamUnavailable.
func (c *Client) DocumentCabinets(ctx context.Context, documentID uint) ([]uint, error) {
	key := cabinetsKey(documentID)
	if cached, found := c.cache.Get(key); found {
		return cached.([]uint), nil
	}

	var ids []uint
	next := fmt.Sprintf("%s%s/documents/%d/cabinets/", c.baseURL, apiPrefix, documentID)
	for page := 0; next != "" && page < maxPages; page++ {
		var body cabinetPage
		found, err := c.getJSON(ctx, next, &body)
		if err != nil {
			return nil, errors.Annotatef(err, "fetching cabinets of document %d", documentID)
		}
		if !found {
			ids = nil
			break
		}
		for _, cab := range body.Results {
			ids = append(ids, cab.ID)
		}
		next = body.Next
	}
	if next != "" {
		return nil, errors.Annotatef(access.ErrUpstreamUnavailable,
			"document %d is in more than %d pages of cabinets", documentID, maxPages)
	}

	c.cache.Set(key, ids, cache.DefaultExpiration)
	return ids, nil
}

// DocumentType is the type a document was filed under.
type DocumentType struct {
	ID    uint   `json:"id"`
	Label string `json:"label"`
}

// Document is the metadata Mayan holds for a document.
type Document struct {
	ID              uint          `json:"id"`
	UUID            string        `json:"uuid"`
	Label           string        `json:"label"`
	Description     string        `json:"description"`
	Language        string        `json:"language"`
	DatetimeCreated string        `json:"datetime_created"`
	DocumentType    *DocumentType `json:"document_type,omitempty"`
}

// DocumentPage is one page of the document listing.
type DocumentPage struct {
	Count   int        `json:"count"`
	Results []Document `json:"results"`
}

// GetDocument returns the metadata of one document. An unknown document is
// reported as errors.NotFound.
func (c *Client) GetDocument(ctx context.Context, documentID uint) (Document, error) {
	var doc Document
	found, err := c.getJSON(ctx, fmt.Sprintf("%s%s/documents/%d/", c.baseURL, apiPrefix, documentID), &doc)
	if err != nil {
		return Document{}, errors.Annotatef(err, "fetching document %d", documentID)
	}
	if !found {
		return Document{}, errors.NotFoundf("document %d", documentID)
	}
	return doc, nil
}

// ListDocuments returns one page of every document in the repository. A page
// past the end is empty.
func (c *Client) ListDocuments(ctx context.Context, page, perPage int) (DocumentPage, error) {
	var out DocumentPage
	found, err := c.getJSON(ctx, fmt.Sprintf("%s%s/documents/?page=%d&page_size=%d", c.baseURL, apiPrefix, page, perPage), &out)
	if err != nil {
		return DocumentPage{}, errors.Annotatef(err, "listing documents page %d", page)
	}
	if !found {
		return DocumentPage{Results: []Document{}}, nil
	}
	return out, nil
}

// Forget drops the cached membership of a document.
func (c *Client) Forget(documentID uint) {
	c.cache.Delete(cabinetsKey(documentID))
}

// Ping checks that the API root answers.
func (c *Client) Ping(ctx context.Context) error {
	found, err := c.getJSON(ctx, c.baseURL+apiPrefix+"/", nil)
	if err != nil {
		return errors.Trace(err)
	}
	if !found {
		return errors.Annotate(access.ErrUpstreamUnavailable, "api root not found")
	}
	return nil
}

// statusError is a non-success response from Mayan.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func (e *statusError) Unwrap() error {
	return access.ErrUpstreamUnavailable
}

// getJSON GETs url and decodes the body into out when out is not nil.
// It reports found=false on 404.
func (c *Client) getJSON(ctx context.Context, url string, out any) (bool, error) {
	var found bool
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			found, err = c.get(ctx, url, out)
			return err
		},
		IsFatalError: func(err error) bool {
			if ctx.Err() != nil {
				return true
			}
			var se *statusError
			if errors.As(err, &se) {
				return se.code < http.StatusInternalServerError
			}
			return false
		},
		NotifyFunc: func(err error, attempt int) {
			c.logger.Debug().Err(err).Int("attempt", attempt).Str("url", url).Msg("mayan request failed")
		},
		Attempts: retryAttempts,
		Delay:    retryDelay,
		Clock:    c.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		err = retry.LastError(err)
		if !errors.Is(err, access.ErrUpstreamUnavailable) {
			err = errors.Annotate(access.ErrUpstreamUnavailable, err.Error())
		}
		return false, err
	}
	return found, nil
}

func (c *Client) get(ctx context.Context, url string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, errors.Trace(err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, errors.Trace(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, &statusError{code: resp.StatusCode}
	}
	if out == nil {
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, errors.Annotate(err, "decoding response")
	}
	return true, nil
}
