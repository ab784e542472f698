package server

import (
	"strconv"
	"strings"

	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
	"github.com/signadot/adcoll/system/collectd/storage"
)

// query is a parsed QueryView request.
type query struct {
	rec      *classad.Ad
	view     string
	results  bool
	postlude bool
	attrs    []string
}

func parseQuery(rec *classad.Ad) *query {
	q := &query{rec: rec, view: api.RootView, results: true}
	if v, ok := rec.EvalString(api.AttrViewName); ok && v != "" {
		q.view = v
	}
	if b, ok := rec.EvalBool(api.AttrWantResults); ok {
		q.results = b
	}
	if b, ok := rec.EvalBool(api.AttrWantPostlude); ok {
		q.postlude = b
	}
	q.attrs, _ = rec.EvalStringList(api.AttrProjectionAttrs)
	return q
}

// collect evaluates the query against the view's members in rank order
// and renders the matching results.
func (q *query) collect(c *storage.Collection) (results []string, n int64, err error) {
	v, ok := c.View(q.view)
	if !ok {
		return nil, 0, api.Errorf(api.NoSuchView, "view %s not found", q.view)
	}
	for _, key := range v.Keys() {
		ad := c.Get(key)
		if !classad.Match(q.rec, ad) {
			continue
		}
		n++
		if q.results {
			results = append(results, wrapResult(key, project(ad, q.attrs)))
		}
	}
	return results, n, nil
}

// project renders ad, or only the listed attributes it has when attrs is
// not empty.
func project(ad *classad.Ad, attrs []string) string {
	if len(attrs) == 0 {
		return classad.Unparse(ad)
	}
	var b strings.Builder
	b.WriteByte('[')
	for _, name := range attrs {
		e := ad.Lookup(name)
		if e == nil {
			continue
		}
		b.WriteString(name)
		b.WriteString(" = ")
		b.WriteString(e.String())
		b.WriteByte(';')
	}
	b.WriteByte(']')
	return b.String()
}

func wrapResult(key, payload string) string {
	return "[" + api.AttrKey + "=" + strconv.Quote(key) + ";" + api.AttrAd + "=" + payload + "]"
}

func (q *query) postludeAd(n int64, err error) string {
	ad := classad.New()
	ad.Insert(api.AttrViewName, classad.String(q.view))
	ad.Insert(api.AttrNumResults, classad.Int(n))
	e := api.AsError(err)
	if e == nil {
		e = &api.Error{Code: api.OK}
	}
	ad.Insert(api.AttrErrCode, classad.Int(int64(e.Code)))
	ad.Insert(api.AttrErrMsg, classad.String(e.Message))
	return classad.Unparse(ad)
}

// handleQuery streams the results of a QueryView request as one message:
// one string per result, the done sentinel, the postlude if requested and
// the end-of-message marker. A missing view skips the results and the
// sentinel.
func (d *Dispatcher) handleQuery(rec *classad.Ad) (err error) {
	q := parseQuery(rec)
	var (
		results []string
		n       int64
		qerr    error
	)
	d.store.View(func(c *storage.Collection) error {
		results, n, qerr = q.collect(c)
		return nil
	})

	d.conn.Encode()
	defer func() {
		if err != nil {
			return
		}
		if q.postlude {
			if perr := d.conn.PutString(q.postludeAd(n, qerr)); perr != nil {
				err = api.Errorf(api.CommunicationError, "failed to send postlude: %v", perr)
				return
			}
		}
		if eerr := d.conn.EndOfMessage(); eerr != nil {
			err = api.Errorf(api.CommunicationError, "failed to end query reply: %v", eerr)
		}
	}()

	if qerr != nil {
		d.log.Debug("query on missing view", "view", q.view)
		return nil
	}
	for _, r := range results {
		if perr := d.conn.PutString(r); perr != nil {
			return api.Errorf(api.CommunicationError, "failed to send query result: %v", perr)
		}
	}
	if perr := d.conn.PutString(api.DoneSentinel); perr != nil {
		return api.Errorf(api.CommunicationError, "failed to send query sentinel: %v", perr)
	}
	return nil
}
