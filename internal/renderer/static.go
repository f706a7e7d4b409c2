package renderer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/khoward/webserial/internal/book"
)

// Static fetches pages over plain HTTP using a Colly collector. It cannot
// execute JavaScript; sites that need it are handled by the Promoting
// renderer escalating to Headless.
type Static struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewStatic constructs a configured Colly-based renderer.
func NewStatic(cfg Config, logger *zap.Logger) (*Static, error) {
	opts := []colly.CollectorOption{
		colly.UserAgent(cfg.UserAgent),
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.NavTimeout,
	}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	base.WithTransport(transport)
	base.SetRequestTimeout(cfg.NavTimeout)

	return &Static{
		baseCollector: base,
		logger:        logger,
	}, nil
}

// Render retrieves a page via the configured Colly collector.
func (r *Static) Render(ctx context.Context, rawURL string) (book.Page, error) {
	collector := r.baseCollector.Clone()
	resultCh := make(chan staticResult, 1)
	var once sync.Once
	send := func(res staticResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(resp *colly.Response) {
		page := book.Page{
			URL:      rawURL,
			FinalURL: resp.Request.URL.String(),
			Body:     append([]byte{}, resp.Body...),
		}
		send(staticResult{page: page})
	})

	collector.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(staticResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return book.Page{}, fmt.Errorf("visit %s: %w", rawURL, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return book.Page{}, err
		}
		if res.err != nil {
			return book.Page{}, fmt.Errorf("static fetch %s: %w", rawURL, res.err)
		}
		return res.page, nil
	default:
		return book.Page{}, errors.New("static fetch produced no result")
	}
}

type staticResult struct {
	page book.Page
	err  error
}
