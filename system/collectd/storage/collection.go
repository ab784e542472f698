package storage

import (
	"slices"
	"sort"

	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
)

// Collection holds the ads, the view tree and the transaction table.
// It is not safe for concurrent use; Storage serializes access.
type Collection struct {
	ads      map[string]*classad.Ad
	root     *View
	views    map[string]*View
	xactions *XactionTable
}

// NewCollection returns an empty collection with a root view.
func NewCollection() *Collection {
	c := &Collection{
		ads:      map[string]*classad.Ad{},
		views:    map[string]*View{},
		xactions: newXactionTable(),
	}
	c.root = newView(api.RootView, nil, nil)
	c.register(c.root)
	return c
}

func (c *Collection) register(v *View) {
	c.views[v.name] = v
}

func (c *Collection) unregister(v *View) {
	v.walk(func(w *View) {
		if c.views[w.name] == w {
			delete(c.views, w.name)
		}
	})
}

func (c *Collection) Xactions() *XactionTable { return c.xactions }

// Len returns the number of ads.
func (c *Collection) Len() int { return len(c.ads) }

// Keys returns all ad keys, sorted.
func (c *Collection) Keys() []string {
	keys := make([]string, 0, len(c.ads))
	for k := range c.ads {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the stored ad for key, or nil. The ad is owned by the
// collection and must not be modified.
func (c *Collection) Get(key string) *classad.Ad {
	return c.ads[key]
}

// GetClassAd is Get with protocol errors.
func (c *Collection) GetClassAd(key string) (*classad.Ad, error) {
	if key == "" {
		return nil, api.NewError(api.NoKey, "bad or missing key")
	}
	ad, ok := c.ads[key]
	if !ok {
		return nil, api.Errorf(api.NoSuchClassAd, "no classad %s", key)
	}
	return ad, nil
}

// View returns the named view.
func (c *Collection) View(name string) (*View, bool) {
	v, ok := c.views[name]
	return v, ok
}

func (c *Collection) lookupView(name string) (*View, error) {
	if name == "" {
		return nil, api.NewError(api.NoViewName, "bad or missing view name")
	}
	v, ok := c.views[name]
	if !ok {
		return nil, api.Errorf(api.NoSuchView, "view %s not found", name)
	}
	return v, nil
}

// GetViewInfo returns a fresh copy of the named view's info.
func (c *Collection) GetViewInfo(name string) (*classad.Ad, error) {
	v, err := c.lookupView(name)
	if err != nil {
		return nil, err
	}
	return v.Info(), nil
}

func (c *Collection) GetSubordinateViewNames(name string) ([]string, error) {
	v, err := c.lookupView(name)
	if err != nil {
		return nil, err
	}
	return v.SubordinateNames(), nil
}

func (c *Collection) GetPartitionedViewNames(name string) ([]string, error) {
	v, err := c.lookupView(name)
	if err != nil {
		return nil, err
	}
	return v.PartitionNames(), nil
}

// FindPartitionName returns the partition of the named view that rep
// belongs to. The boolean is false when no such partition exists.
func (c *Collection) FindPartitionName(name string, rep *classad.Ad) (string, bool, error) {
	v, err := c.lookupView(name)
	if err != nil {
		return "", false, err
	}
	if rep == nil {
		return "", false, api.NewError(api.BadClassAd, "bad or missing representative")
	}
	p, ok := v.findPartition(rep)
	if !ok {
		return "", false, nil
	}
	return p.name, true, nil
}

// put stores ad under key, replacing and unindexing any previous ad.
func (c *Collection) put(key string, ad *classad.Ad) {
	if _, ok := c.ads[key]; ok {
		c.root.remove(key)
	}
	c.ads[key] = ad
	c.root.insert(c, key, ad)
}

func (c *Collection) drop(key string) {
	if _, ok := c.ads[key]; !ok {
		return
	}
	c.root.remove(key)
	delete(c.ads, key)
}

// PlayClassAdOp applies an ad operation record.
func (c *Collection) PlayClassAdOp(op api.Op, rec *classad.Ad) error {
	key, ok := rec.EvalString(api.AttrKey)
	if !ok || key == "" {
		return api.NewError(api.NoKey, "bad or missing key attribute")
	}
	switch op {
	case api.OpAddClassAd:
		ad, ok := rec.EvalAd(api.AttrAd)
		if !ok {
			return api.NewError(api.BadClassAd, "bad or missing ad attribute")
		}
		c.put(key, ad.Copy())
		return nil

	case api.OpUpdateClassAd, api.OpModifyClassAd:
		arg, ok := rec.EvalAd(api.AttrAd)
		if !ok {
			return api.NewError(api.BadClassAd, "bad or missing ad attribute")
		}
		cur, ok := c.ads[key]
		if !ok {
			return api.Errorf(api.NoSuchClassAd, "no classad %s to update", key)
		}
		next := cur.Copy()
		if op == api.OpUpdateClassAd {
			next.Update(arg)
		} else if err := next.Modify(arg); err != nil {
			return api.NewError(api.BadClassAd, err.Error())
		}
		c.put(key, next)
		return nil

	case api.OpRemoveClassAd:
		if _, ok := c.ads[key]; !ok {
			return api.Errorf(api.NoSuchClassAd, "no classad %s to remove", key)
		}
		c.drop(key)
		return nil
	}
	return api.Errorf(api.InternalError, "%s is not a classad op", op)
}

// PlayViewOp applies a view operation record.
func (c *Collection) PlayViewOp(op api.Op, rec *classad.Ad) error {
	switch op {
	case api.OpCreateSubView:
		parent, err := c.parentOf(rec)
		if err != nil {
			return err
		}
		name, err := c.newViewName(rec)
		if err != nil {
			return err
		}
		v := newView(name, parent, rec.Copy())
		parent.subs = append(parent.subs, v)
		c.register(v)
		for _, key := range parent.Keys() {
			v.insert(c, key, c.ads[key])
		}
		return nil

	case api.OpCreatePartition:
		parent, err := c.parentOf(rec)
		if err != nil {
			return err
		}
		rep, ok := rec.EvalAd(api.AttrRepresentative)
		if !ok {
			return api.NewError(api.NoRepresentative, "no representative classad for partition found")
		}
		sig := parent.signature(rep)
		if sig == "" {
			return api.Errorf(api.BadPartitionExprs, "view %s has no partition expressions", parent.name)
		}
		if _, ok := parent.partitions[sig]; ok {
			return api.Errorf(api.PartitionExists, "partition %s already exists", sig)
		}
		name, _ := rec.EvalString(api.AttrViewName)
		if name == "" {
			name = parent.name + ":" + sig
		}
		if _, ok := c.views[name]; ok {
			return api.Errorf(api.ViewPresent, "view %s already exists", name)
		}
		info := rec.Copy()
		info.Delete(api.AttrRepresentative)
		p := newView(name, parent, info)
		p.sig = sig
		p.rep = rep.Copy()
		parent.partitions[sig] = p
		c.register(p)
		return nil

	case api.OpDeleteView:
		name, _ := rec.EvalString(api.AttrViewName)
		v, err := c.lookupView(name)
		if err != nil {
			return err
		}
		parent := v.parent
		if parent == nil {
			return api.Errorf(api.NoParentView, "view %s has no parent view", name)
		}
		c.unregister(v)
		if i := slices.Index(parent.subs, v); i >= 0 {
			parent.subs = slices.Delete(parent.subs, i, i+1)
			return nil
		}
		delete(parent.partitions, v.sig)
		// members of a deleted partition fall back into a default one
		for _, key := range v.Keys() {
			parent.route(c, key, c.ads[key])
		}
		return nil

	case api.OpSetViewInfo:
		name, _ := rec.EvalString(api.AttrViewName)
		v, err := c.lookupView(name)
		if err != nil {
			return err
		}
		info, ok := rec.EvalAd(api.AttrViewInfo)
		if !ok {
			return api.NewError(api.BadViewInfo, "view info bad or missing")
		}
		info = info.Copy()
		if pe := info.Lookup(api.AttrPartitionExprs); pe != nil && pe.Kind() != classad.ListKind {
			return api.NewError(api.BadPartitionExprs, "partition expressions must be a list")
		}
		if v == c.root {
			info.Insert(api.AttrRequirements, classad.Bool(true))
		}
		v.setInfo(info)
		c.rebuild(v)
		return nil
	}
	return api.Errorf(api.InternalError, "%s is not a view op", op)
}

func (c *Collection) parentOf(rec *classad.Ad) (*View, error) {
	name, _ := rec.EvalString(api.AttrParentViewName)
	v, ok := c.views[name]
	if name == "" || !ok {
		return nil, api.Errorf(api.NoSuchView, "view %s not found", name)
	}
	return v, nil
}

func (c *Collection) newViewName(rec *classad.Ad) (string, error) {
	name, _ := rec.EvalString(api.AttrViewName)
	if name == "" {
		return "", api.NewError(api.NoViewName, "bad or missing view name")
	}
	if _, ok := c.views[name]; ok {
		return "", api.Errorf(api.ViewPresent, "view %s already exists", name)
	}
	return name, nil
}

// rebuild recomputes the membership of v and its descendants from v's
// parent, or from every ad for the root.
func (c *Collection) rebuild(v *View) {
	var keys []string
	if v.parent == nil {
		keys = c.Keys()
	} else {
		keys = v.parent.Keys()
	}
	v.clear(c)
	for _, key := range keys {
		v.insert(c, key, c.ads[key])
	}
}

// PlayXactionOp applies a transaction operation. The returned transaction
// is set whenever the named transaction took part, including on failure,
// so callers can report its error cause.
func (c *Collection) PlayXactionOp(op api.Op, name string, rec *classad.Ad) (*Xaction, error) {
	if name == "" {
		return nil, api.NewError(api.NoTransactionName, "bad or missing transaction name")
	}
	switch op {
	case api.OpOpenTransaction:
		local, _ := rec.EvalBool(api.AttrLocalXaction)
		return c.xactions.Open(name, local)

	case api.OpCommitTransaction:
		x, ok := c.xactions.Lookup(name)
		if !ok {
			return nil, api.Errorf(api.NoSuchTransaction, "transaction %s not found", name)
		}
		if x.committed {
			return x, api.Errorf(api.BadTransactionState, "transaction %s already committed", name)
		}
		if err := c.commit(x); err != nil {
			return x, err
		}
		if x.Local {
			c.xactions.Remove(name)
		} else {
			x.committed = true
		}
		return x, nil

	case api.OpAbortTransaction:
		return nil, c.xactions.Abort(name)

	case api.OpForgetTransaction:
		return nil, c.xactions.Forget(name)
	}
	return nil, api.Errorf(api.InternalError, "%s is not a transaction op", op)
}

type undo struct {
	key   string
	prior *classad.Ad
}

// commit applies the buffered records of x in order. If one fails, the
// ones already applied are undone, partitions they created are dropped and
// the failing record becomes the transaction's error cause.
func (c *Collection) commit(x *Xaction) error {
	known := make(map[string]bool, len(c.views))
	for name := range c.views {
		known[name] = true
	}
	var undos []undo
	seen := map[string]bool{}
	for _, r := range x.records {
		if !seen[r.Key] {
			seen[r.Key] = true
			undos = append(undos, undo{key: r.Key, prior: c.ads[r.Key]})
		}
		if err := c.PlayClassAdOp(r.Op, r.Rec); err != nil {
			for i := len(undos) - 1; i >= 0; i-- {
				u := undos[i]
				if u.prior == nil {
					c.drop(u.key)
				} else {
					c.put(u.key, u.prior)
				}
			}
			c.dropPartitionsSince(known)
			x.errCause = r.Rec
			return err
		}
	}
	return nil
}

// dropPartitionsSince detaches and unregisters the partitions created
// after known was taken.
func (c *Collection) dropPartitionsSince(known map[string]bool) {
	for name, v := range c.views {
		if known[name] {
			continue
		}
		if p := v.parent; p != nil && p.partitions[v.sig] == v {
			delete(p.partitions, v.sig)
		}
		c.unregister(v)
	}
}
