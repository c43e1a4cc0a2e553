package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

var ErrInvalidBounds = errors.New("invalid page bounds")

// Options bound a scan. Pages are numbered from 1. StartPage and
// FinishPage of 0 are unbounded.
type Options struct {
	PageSize   int
	StartPage  int
	FinishPage int
}

func (o Options) Validate() error {
	if o.PageSize < 0 || o.PageSize > MaxPageSize {
		return fmt.Errorf("%w: page size %d outside 1..%d", ErrInvalidBounds, o.PageSize, MaxPageSize)
	}
	if o.StartPage < 0 || o.FinishPage < 0 {
		return fmt.Errorf("%w: negative page number", ErrInvalidBounds)
	}
	if o.FinishPage > 0 && o.StartPage > o.FinishPage {
		return fmt.Errorf("%w: start page %d after finish page %d", ErrInvalidBounds, o.StartPage, o.FinishPage)
	}
	return nil
}

// Page is one fetch. Skipped pages lie before StartPage: they were read
// only to reach the next token and must not be processed.
type Page struct {
	Number   int
	Entities []*table.Entity
	Skipped  bool
	Token    string
	Elapsed  time.Duration
}

// Scanner walks a filtered query one page at a time. Tokens cannot be
// seeked, so every page up to FinishPage is fetched in order.
type Scanner struct {
	tbl    table.Table
	filter string
	opts   Options

	page  int
	token string
	done  bool
}

func NewScanner(t table.Table, filter string, opts Options) (*Scanner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Scanner{tbl: t, filter: filter, opts: opts}, nil
}

// Next fetches the next page. It returns false once the source is
// exhausted or FinishPage has been fetched.
func (s *Scanner) Next(ctx context.Context) (*Page, bool, error) {
	if s.done {
		return nil, false, nil
	}
	if s.opts.FinishPage > 0 && s.page >= s.opts.FinishPage {
		s.done = true
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	start := time.Now()
	res, err := s.tbl.Query(ctx, table.Query{
		Filter:            s.filter,
		PageSize:          s.opts.PageSize,
		ContinuationToken: s.token,
	})
	if err != nil {
		return nil, false, fmt.Errorf("fetch page %d of %s: %w", s.page+1, s.tbl.Name(), err)
	}
	s.page++
	s.token = res.ContinuationToken
	if s.token == "" {
		s.done = true
	}
	return &Page{
		Number:   s.page,
		Entities: res.Entities,
		Skipped:  s.opts.StartPage > 0 && s.page < s.opts.StartPage,
		Token:    s.token,
		Elapsed:  time.Since(start),
	}, true, nil
}

// Done reports whether the source has no further pages.
func (s *Scanner) Done() bool { return s.done && s.token == "" }

// Token is the continuation token of the last fetched page.
func (s *Scanner) Token() string { return s.token }

// PageNumber is the number of pages fetched so far.
func (s *Scanner) PageNumber() int { return s.page }
