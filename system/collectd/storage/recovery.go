package storage

import (
	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
)

// CommitRecord is the log entry written for a committed transaction.
func CommitRecord(x *Xaction) *classad.Ad {
	rec := classad.New()
	rec.Insert(api.AttrOpType, classad.Int(int64(api.OpCommitTransaction)))
	rec.Insert(api.AttrXactionName, classad.String(x.Name))
	if x.Local {
		rec.Insert(api.AttrLocalXaction, classad.Bool(true))
	}
	items := make([]*classad.Expr, len(x.records))
	for i, r := range x.records {
		items[i] = classad.AdValue(r.Rec)
	}
	rec.Insert(api.AttrRecords, classad.List(items...))
	return rec
}

// Replay applies one log entry during recovery.
func (c *Collection) Replay(rec *classad.Ad) error {
	n, ok := rec.EvalInt(api.AttrOpType)
	if !ok {
		return api.NewError(api.BadClassAd, "log record has no "+api.AttrOpType)
	}
	op := api.Op(n)
	switch {
	case op == api.OpCommitTransaction:
		return c.replayCommit(rec)
	case op.IsXactionOp():
		name, _ := rec.EvalString(api.AttrXactionName)
		_, err := c.PlayXactionOp(op, name, rec)
		if api.CodeOf(err) == api.NoSuchTransaction {
			// forgetting a local transaction finds nothing
			return nil
		}
		return err
	case op.IsClassAdOp():
		return c.PlayClassAdOp(op, rec)
	case op.IsViewOp():
		return c.PlayViewOp(op, rec)
	}
	return api.Errorf(api.BadClassAd, "unexpected %s in log", op)
}

// replayCommit re-buffers the transaction's records and commits them.
func (c *Collection) replayCommit(rec *classad.Ad) error {
	name, _ := rec.EvalString(api.AttrXactionName)
	local, _ := rec.EvalBool(api.AttrLocalXaction)
	if _, err := c.xactions.Open(name, local); err != nil {
		return err
	}
	items, _ := rec.Lookup(api.AttrRecords).Items()
	for _, it := range items {
		r, ok := it.Ad()
		if !ok {
			c.xactions.Remove(name)
			return api.Errorf(api.BadClassAd, "transaction %s has a malformed record", name)
		}
		n, _ := r.EvalInt(api.AttrOpType)
		key, _ := r.EvalString(api.AttrKey)
		if err := c.xactions.Append(name, api.Op(n), key, r); err != nil {
			c.xactions.Remove(name)
			return err
		}
	}
	if _, err := c.PlayXactionOp(api.OpCommitTransaction, name, rec); err != nil {
		c.xactions.Remove(name)
		return err
	}
	return nil
}

// Snapshot returns records that rebuild the collection from nothing: the
// root view info, the views below it parents first, a record per committed
// transaction and one add per ad.
func (c *Collection) Snapshot() []*classad.Ad {
	var recs []*classad.Ad

	root := classad.New()
	root.Insert(api.AttrOpType, classad.Int(int64(api.OpSetViewInfo)))
	root.Insert(api.AttrViewName, classad.String(api.RootView))
	root.Insert(api.AttrViewInfo, classad.AdValue(c.root.info.Copy()))
	recs = append(recs, root)

	c.root.walk(func(v *View) {
		if v == c.root {
			return
		}
		rec := v.info.Copy()
		if v.rep != nil {
			rec.Insert(api.AttrOpType, classad.Int(int64(api.OpCreatePartition)))
			rec.Insert(api.AttrRepresentative, classad.AdValue(v.rep.Copy()))
		} else {
			rec.Insert(api.AttrOpType, classad.Int(int64(api.OpCreateSubView)))
		}
		recs = append(recs, rec)
	})

	for _, name := range c.xactions.Committed() {
		x, _ := c.xactions.Lookup(name)
		recs = append(recs, CommitRecord(&Xaction{Name: x.Name, Local: x.Local}))
	}

	for _, key := range c.Keys() {
		rec := classad.New()
		rec.Insert(api.AttrOpType, classad.Int(int64(api.OpAddClassAd)))
		rec.Insert(api.AttrKey, classad.String(key))
		rec.Insert(api.AttrAd, classad.AdValue(c.ads[key].Copy()))
		recs = append(recs, rec)
	}
	return recs
}
