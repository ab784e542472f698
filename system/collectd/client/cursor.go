package client

import (
	"context"
	"errors"

	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
	"github.com/signadot/adcoll/system/collectd/wire"
)

// Result is one query result.
type Result struct {
	Key string
	Ad  *classad.Ad
}

// Sequence is a forward-only view of the results of a posted query.
type Sequence interface {
	Connect(ctx context.Context, addr string, opts *Options) error
	Disconnect() error
	PostQuery(view, constraint string, opts ...QueryOption) error
	// Next returns the next result, or nil when there are no more.
	Next() (*Result, error)
	// Postlude returns the query summary once the results are exhausted,
	// if one was requested.
	Postlude() *classad.Ad
	ClearResults()
}

// Navigator is a Sequence that keeps its results and can move over them
// again.
type Navigator interface {
	Sequence
	Current() *Result
	Prev() *Result
	ToFirst()
	ToAfterLast() error
	IsAtFirst() bool
	IsAfterLast() bool
}

// QueryOption adjusts a posted query.
type QueryOption func(*classad.Ad)

// WithPostlude requests the query summary after the results.
func WithPostlude() QueryOption {
	return func(q *classad.Ad) { q.Insert(api.AttrWantPostlude, classad.Bool(true)) }
}

// CountOnly suppresses the results; combine with WithPostlude to learn
// how many matched.
func CountOnly() QueryOption {
	return func(q *classad.Ad) { q.Insert(api.AttrWantResults, classad.Bool(false)) }
}

// WithProjection restricts each result ad to attrs.
func WithProjection(attrs ...string) QueryOption {
	return func(q *classad.Ad) { q.Insert(api.AttrProjectionAttrs, classad.StringList(attrs)) }
}

// stream reads the results of one query at a time off a client
// connection. Other requests on the same client may read the rest of an
// unfinished reply ahead of time; those results wait in early.
type stream struct {
	client *Client

	posted       bool
	finished     bool
	wantPostlude bool
	postlude     *classad.Ad

	early    []*Result
	earlyErr error
}

func (s *stream) Connect(ctx context.Context, addr string, opts *Options) error {
	if s.client != nil {
		s.client.Close()
	}
	c, err := Dial(ctx, addr, opts)
	if err != nil {
		return err
	}
	s.client = c
	s.posted, s.finished = false, false
	s.early, s.earlyErr = nil, nil
	return nil
}

func (s *stream) Disconnect() error {
	if s.client == nil {
		return ErrNotConnected
	}
	err := s.client.Disconnect()
	s.client = nil
	return err
}

// lock takes the client lock, which also guards the stream state.
func (s *stream) lock() func() {
	c := s.client
	if c == nil {
		return func() {}
	}
	c.mu.Lock()
	return c.mu.Unlock
}

func (s *stream) Postlude() *classad.Ad {
	defer s.lock()()
	return s.postlude
}

// post sends a query over the connection, first skipping what is left of
// a previous one.
func (s *stream) post(view, constraint string, opts []QueryOption) error {
	if s.client == nil {
		return ErrNotConnected
	}
	if constraint == "" {
		constraint = "true"
	}
	req, err := classad.ParseExpr(constraint)
	if err != nil {
		return api.Errorf(api.ParseError, "bad constraint %q: %v", constraint, err)
	}
	q := classad.New()
	if view != "" {
		q.Insert(api.AttrViewName, classad.String(view))
	}
	q.Insert(api.AttrRequirements, req)
	for _, opt := range opts {
		opt(q)
	}
	wantPostlude, _ := q.EvalBool(api.AttrWantPostlude)

	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.query == s {
		c.query = nil
		c.conn.Decode()
		if err := c.conn.EndOfMessage(); err != nil {
			c.closeLocked()
			return api.Errorf(api.CommunicationError, "failed to skip previous results: %v", err)
		}
	}
	s.wantPostlude = wantPostlude
	s.postlude = nil
	s.finished = false
	s.early, s.earlyErr = nil, nil
	if err := c.putOp(api.OpQueryView, q); err != nil {
		c.closeLocked()
		return err
	}
	s.posted = true
	c.query = s
	return nil
}

// read returns the next result. It returns nil once the results end,
// whether by the done sentinel, a bare end of message or a postlude in
// place of a result.
func (s *stream) read() (*Result, error) {
	if !s.posted {
		return nil, nil
	}
	defer s.lock()()
	if len(s.early) > 0 {
		r := s.early[0]
		s.early = s.early[1:]
		return r, nil
	}
	if err := s.earlyErr; err != nil {
		s.earlyErr = nil
		return nil, err
	}
	if s.finished {
		return nil, nil
	}
	if s.client == nil {
		return nil, ErrNotConnected
	}
	return s.readLocked()
}

// exhausted reports whether every result has been handed out.
func (s *stream) exhausted() bool {
	defer s.lock()()
	return s.finished && len(s.early) == 0 && s.earlyErr == nil
}

// finish marks the reply as fully read, freeing the connection for other
// requests.
func (s *stream) finish() {
	s.finished = true
	if c := s.client; c != nil && c.query == s {
		c.query = nil
	}
}

// readLocked reads one result off the wire. The client lock must be held.
func (s *stream) readLocked() (*Result, error) {
	c := s.client
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	fail := func(what string, err error) (*Result, error) {
		c.closeLocked()
		s.finish()
		return nil, api.Errorf(api.CommunicationError, "failed to read %s: %v", what, err)
	}

	c.conn.Decode()
	text, err := c.conn.GetString()
	if errors.Is(err, wire.ErrEndOfMessage) {
		s.finish()
		if err := c.conn.EndOfMessage(); err != nil {
			return fail("end of results", err)
		}
		return nil, nil
	}
	if err != nil {
		return fail("query result", err)
	}

	if text == api.DoneSentinel {
		s.finish()
		if s.wantPostlude {
			text, err := c.conn.GetString()
			if err != nil {
				return fail("postlude", err)
			}
			if s.postlude, err = classad.Parse(text); err != nil {
				return fail("postlude", err)
			}
		}
		if err := c.conn.EndOfMessage(); err != nil {
			return fail("end of results", err)
		}
		return nil, nil
	}

	ad, err := classad.Parse(text)
	if err != nil {
		c.conn.EndOfMessage()
		s.finish()
		return nil, api.Errorf(api.ParseError, "bad query result: %v", err)
	}
	if isPostlude(ad) {
		s.postlude = ad
		s.finish()
		if err := c.conn.EndOfMessage(); err != nil {
			return fail("end of results", err)
		}
		return nil, nil
	}
	key, ok := ad.EvalString(api.AttrKey)
	res, ok2 := ad.EvalAd(api.AttrAd)
	if !ok || !ok2 {
		c.conn.EndOfMessage()
		s.finish()
		return nil, api.Errorf(api.BadServerAck, "query result without key or ad: %s", text)
	}
	return &Result{Key: key, Ad: res}, nil
}

// settleLocked reads the rest of the reply into early. The client lock
// must be held.
func (s *stream) settleLocked() {
	for !s.finished {
		r, err := s.readLocked()
		if err != nil {
			s.earlyErr = err
			return
		}
		if r != nil {
			s.early = append(s.early, r)
		}
	}
}

func isPostlude(ad *classad.Ad) bool {
	if ad.Lookup(api.AttrKey) != nil {
		return false
	}
	return ad.Lookup(api.AttrNumResults) != nil || ad.Lookup(api.AttrErrCode) != nil
}

// clear forgets the postlude. Results of an unfinished query stay
// available until they are read or the next post skips them.
func (s *stream) clear() {
	defer s.lock()()
	s.postlude = nil
	if s.finished {
		s.posted = false
		s.early, s.earlyErr = nil, nil
	}
	s.finished = false
}

// StreamCursor hands out query results as they arrive and keeps none of
// them.
type StreamCursor struct {
	stream
}

var _ Sequence = (*StreamCursor)(nil)

// NewStreamCursor returns a cursor on c, or an unconnected one when c is
// nil.
func NewStreamCursor(c *Client) *StreamCursor {
	return &StreamCursor{stream: stream{client: c}}
}

// PostQuery sends a query for the ads of view satisfying constraint. An
// empty view means the root view and an empty constraint matches all.
func (s *StreamCursor) PostQuery(view, constraint string, opts ...QueryOption) error {
	return s.post(view, constraint, opts)
}

func (s *StreamCursor) Next() (*Result, error) { return s.read() }

// ClearResults drops the postlude and readies the cursor for the next
// query.
func (s *StreamCursor) ClearResults() { s.clear() }

// BufferedCursor keeps every result it has read so they can be visited
// again in either direction.
type BufferedCursor struct {
	stream

	results []*Result
	// pos is the index of the current result: -1 before the first and
	// len(results) past the last.
	pos int
}

var _ Navigator = (*BufferedCursor)(nil)

// NewBufferedCursor returns a cursor on c, or an unconnected one when c
// is nil.
func NewBufferedCursor(c *Client) *BufferedCursor {
	return &BufferedCursor{stream: stream{client: c}, pos: -1}
}

// PostQuery sends a query for the ads of view satisfying constraint,
// discarding the results of the previous query.
func (b *BufferedCursor) PostQuery(view, constraint string, opts ...QueryOption) error {
	b.ClearResults()
	return b.post(view, constraint, opts)
}

// Next moves to the following result, reading it from the server when the
// buffer is exhausted.
func (b *BufferedCursor) Next() (*Result, error) {
	if b.pos+1 < len(b.results) {
		b.pos++
		return b.results[b.pos], nil
	}
	r, err := b.read()
	if err != nil || r == nil {
		b.pos = len(b.results)
		return nil, err
	}
	b.results = append(b.results, r)
	b.pos = len(b.results) - 1
	return r, nil
}

func (b *BufferedCursor) Current() *Result {
	if b.pos < 0 || b.pos >= len(b.results) {
		return nil
	}
	return b.results[b.pos]
}

// Prev moves to the preceding result.
func (b *BufferedCursor) Prev() *Result {
	if b.pos <= 0 {
		b.pos = -1
		return nil
	}
	b.pos--
	return b.results[b.pos]
}

// ToFirst moves before the first result, so Next returns it.
func (b *BufferedCursor) ToFirst() { b.pos = -1 }

// ToAfterLast reads any remaining results and moves past the last.
func (b *BufferedCursor) ToAfterLast() error {
	for {
		r, err := b.read()
		if err != nil {
			b.pos = len(b.results)
			return err
		}
		if r == nil {
			break
		}
		b.results = append(b.results, r)
	}
	b.pos = len(b.results)
	return nil
}

func (b *BufferedCursor) IsAtFirst() bool { return b.pos < 0 }

func (b *BufferedCursor) IsAfterLast() bool {
	return b.pos >= len(b.results) && b.exhausted()
}

// Len returns the number of results read so far.
func (b *BufferedCursor) Len() int { return len(b.results) }

// ClearResults drops the buffered results and the postlude.
func (b *BufferedCursor) ClearResults() {
	b.results = nil
	b.pos = -1
	b.clear()
}
