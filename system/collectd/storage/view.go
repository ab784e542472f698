package storage

import (
	"slices"
	"sort"
	"strings"

	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
)

type member struct {
	rank float64
	key  string
}

func (m member) less(o member) bool {
	if m.rank != o.rank {
		return m.rank < o.rank
	}
	return m.key < o.key
}

// View is a constrained, ranked subset of a collection's ads. Views form a
// tree: subordinate views filter their parent's members, and partitions
// split them by the values of the parent's partition expressions.
type View struct {
	name   string
	parent *View
	info   *classad.Ad

	members []member
	ranks   map[string]float64

	subs       []*View
	partitions map[string]*View // signature -> partition

	// set on partitions
	sig string
	rep *classad.Ad
}

func newView(name string, parent *View, info *classad.Ad) *View {
	v := &View{
		name:       name,
		parent:     parent,
		ranks:      map[string]float64{},
		partitions: map[string]*View{},
	}
	v.setInfo(info)
	return v
}

func (v *View) Name() string { return v.name }

// setInfo installs info, normalizing Requirements, Rank and PartitionExprs
// and keeping the view's name and parent name in it.
func (v *View) setInfo(info *classad.Ad) {
	if info == nil {
		info = classad.New()
	}
	info.Delete(api.AttrOpType)
	info.Delete(api.AttrWantAck)
	info.Delete(api.AttrXactionName)
	if info.Lookup(api.AttrRequirements) == nil {
		info.Insert(api.AttrRequirements, classad.Bool(true))
	}
	if info.Lookup(api.AttrRank) == nil {
		info.Insert(api.AttrRank, classad.Undefined())
	}
	if _, ok := info.Lookup(api.AttrPartitionExprs).Items(); !ok {
		info.Insert(api.AttrPartitionExprs, classad.List())
	}
	info.Insert(api.AttrViewName, classad.String(v.name))
	parent := ""
	if v.parent != nil {
		parent = v.parent.name
	}
	info.Insert(api.AttrParentViewName, classad.String(parent))
	v.info = info
}

// accepts reports whether ad satisfies the view's constraint.
func (v *View) accepts(ad *classad.Ad) bool {
	if v.parent == nil {
		return true
	}
	return classad.Match(v.info, ad)
}

func (v *View) rankOf(ad *classad.Ad) float64 {
	val, err := v.info.EvalAgainst(api.AttrRank, ad)
	if err != nil {
		return 0
	}
	f, _ := classad.ToFloat(val)
	return f
}

func (v *View) partitionExprs() []*classad.Expr {
	items, _ := v.info.Lookup(api.AttrPartitionExprs).Items()
	return items
}

// signature returns the partition signature of ad, or "" when the view is
// not partitioned.
func (v *View) signature(ad *classad.Ad) string {
	exprs := v.partitionExprs()
	if len(exprs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<|")
	for _, e := range exprs {
		val, err := classad.EvalExpr(e, v.info, ad)
		if err != nil {
			val = nil
		}
		lit, err := classad.FromValue(val)
		if err != nil {
			lit = classad.Undefined()
		}
		b.WriteString(lit.String())
		b.WriteByte('|')
	}
	b.WriteByte('>')
	return b.String()
}

func (v *View) isMember(key string) bool {
	_, ok := v.ranks[key]
	return ok
}

func (v *View) Len() int { return len(v.members) }

// Keys returns member keys in rank order.
func (v *View) Keys() []string {
	keys := make([]string, len(v.members))
	for i, m := range v.members {
		keys[i] = m.key
	}
	return keys
}

func (v *View) addMember(key string, rank float64) {
	m := member{rank: rank, key: key}
	i := sort.Search(len(v.members), func(i int) bool { return !v.members[i].less(m) })
	v.members = slices.Insert(v.members, i, m)
	v.ranks[key] = rank
}

func (v *View) removeMember(key string) {
	rank, ok := v.ranks[key]
	if !ok {
		return
	}
	m := member{rank: rank, key: key}
	i := sort.Search(len(v.members), func(i int) bool { return !v.members[i].less(m) })
	if i < len(v.members) && v.members[i].key == key {
		v.members = slices.Delete(v.members, i, i+1)
	}
	delete(v.ranks, key)
}

// insert adds ad to v if it satisfies the constraint, then to the
// subordinate views and to the partition for its signature, creating the
// partition on demand.
func (v *View) insert(c *Collection, key string, ad *classad.Ad) {
	if !v.accepts(ad) {
		return
	}
	for _, sub := range v.subs {
		sub.insert(c, key, ad)
	}
	v.route(c, key, ad)
	v.addMember(key, v.rankOf(ad))
}

// route inserts ad into the partition for its signature.
func (v *View) route(c *Collection, key string, ad *classad.Ad) {
	sig := v.signature(ad)
	if sig == "" {
		return
	}
	p := v.partitions[sig]
	if p == nil {
		p = newView(v.name+":"+sig, v, nil)
		p.sig = sig
		p.rep = ad.Copy()
		v.partitions[sig] = p
		c.register(p)
	}
	p.insert(c, key, ad)
}

// remove drops key from v and all its descendants.
func (v *View) remove(key string) {
	if !v.isMember(key) {
		return
	}
	for _, sub := range v.subs {
		sub.remove(key)
	}
	for _, p := range v.partitions {
		p.remove(key)
	}
	v.removeMember(key)
}

// clear drops all members of v and its subordinate views and removes its
// partitions.
func (v *View) clear(c *Collection) {
	v.members = nil
	v.ranks = map[string]float64{}
	for _, sub := range v.subs {
		sub.clear(c)
	}
	for _, p := range v.partitions {
		c.unregister(p)
	}
	v.partitions = map[string]*View{}
}

// SubordinateNames returns the names of v's subordinate views.
func (v *View) SubordinateNames() []string {
	names := make([]string, len(v.subs))
	for i, s := range v.subs {
		names[i] = s.name
	}
	return names
}

// PartitionNames returns the names of v's partitions, sorted.
func (v *View) PartitionNames() []string {
	names := make([]string, 0, len(v.partitions))
	for _, p := range v.partitions {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

// Info returns a copy of the view info extended with NumMembers,
// SubordinateViews and PartitionedViews.
func (v *View) Info() *classad.Ad {
	info := v.info.Copy()
	info.Insert(api.AttrNumMembers, classad.Int(int64(len(v.members))))
	info.Insert(api.AttrSubordinate, classad.StringList(v.SubordinateNames()))
	info.Insert(api.AttrPartitioned, classad.StringList(v.PartitionNames()))
	return info
}

// findPartition returns the partition matching rep's signature.
func (v *View) findPartition(rep *classad.Ad) (*View, bool) {
	sig := v.signature(rep)
	if sig == "" {
		return nil, false
	}
	p, ok := v.partitions[sig]
	return p, ok
}

// walk visits v and its descendants, parents first.
func (v *View) walk(fn func(*View)) {
	fn(v)
	for _, sub := range v.subs {
		sub.walk(fn)
	}
	sigs := make([]string, 0, len(v.partitions))
	for sig := range v.partitions {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)
	for _, sig := range sigs {
		v.partitions[sig].walk(fn)
	}
}
