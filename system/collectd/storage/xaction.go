package storage

import (
	"sort"

	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
)

// Record is one buffered ad operation of a transaction.
type Record struct {
	Op  api.Op
	Key string
	Rec *classad.Ad
}

// Xaction is a named server-side transaction.
type Xaction struct {
	Name      string
	Local     bool
	records   []Record
	committed bool
	errCause  *classad.Ad
}

func (x *Xaction) Records() []Record { return x.records }
func (x *Xaction) Committed() bool   { return x.committed }

// ErrorCause returns the record that made the transaction fail, if any.
func (x *Xaction) ErrorCause() *classad.Ad {
	if x == nil {
		return nil
	}
	return x.errCause
}

// XactionTable maps transaction names to transactions. Open transactions
// are active until committed; committed ones stay in the table until
// forgotten, except local transactions which leave it on commit.
//
// XactionTable has no lock of its own; it is guarded by the Storage lock.
type XactionTable struct {
	m map[string]*Xaction
}

func newXactionTable() *XactionTable {
	return &XactionTable{m: map[string]*Xaction{}}
}

// Open creates the named transaction. It fails with TransactionExists if
// the name is taken and leaves the existing transaction untouched.
func (t *XactionTable) Open(name string, local bool) (*Xaction, error) {
	if name == "" {
		return nil, api.NewError(api.NoTransactionName, "transaction name required")
	}
	if _, ok := t.m[name]; ok {
		return nil, api.Errorf(api.TransactionExists, "transaction %s already exists", name)
	}
	x := &Xaction{Name: name, Local: local}
	t.m[name] = x
	return x, nil
}

// Lookup returns the named transaction in either state.
func (t *XactionTable) Lookup(name string) (*Xaction, bool) {
	x, ok := t.m[name]
	return x, ok
}

// Append buffers an ad operation on an active transaction.
func (t *XactionTable) Append(name string, op api.Op, key string, rec *classad.Ad) error {
	x, ok := t.m[name]
	if !ok {
		return api.Errorf(api.NoSuchTransaction, "transaction %s not found", name)
	}
	if x.committed {
		return api.Errorf(api.BadTransactionState, "transaction %s already committed", name)
	}
	x.records = append(x.records, Record{Op: op, Key: key, Rec: rec})
	return nil
}

// Abort drops an active or committed transaction.
func (t *XactionTable) Abort(name string) error {
	if _, ok := t.m[name]; !ok {
		return api.Errorf(api.NoSuchTransaction, "transaction %s not found", name)
	}
	delete(t.m, name)
	return nil
}

// Forget drops a transaction. Forgetting an uncommitted transaction
// aborts it.
func (t *XactionTable) Forget(name string) error {
	if _, ok := t.m[name]; !ok {
		return api.Errorf(api.NoSuchTransaction, "transaction %s doesn't exist to be forgotten", name)
	}
	delete(t.m, name)
	return nil
}

// Remove drops name if present.
func (t *XactionTable) Remove(name string) {
	delete(t.m, name)
}

func (t *XactionTable) IsActive(name string) bool {
	x, ok := t.m[name]
	return ok && !x.committed
}

func (t *XactionTable) IsCommitted(name string) bool {
	x, ok := t.m[name]
	return ok && x.committed
}

// State reports the state of the named transaction.
func (t *XactionTable) State(name string) api.XactionState {
	switch {
	case t.IsActive(name):
		return api.XactionActive
	case t.IsCommitted(name):
		return api.XactionCommitted
	}
	return api.XactionAbsent
}

func (t *XactionTable) Active() []string {
	return t.names(false)
}

func (t *XactionTable) Committed() []string {
	return t.names(true)
}

func (t *XactionTable) names(committed bool) []string {
	var res []string
	for name, x := range t.m {
		if x.committed == committed {
			res = append(res, name)
		}
	}
	sort.Strings(res)
	return res
}

func (t *XactionTable) Len() int { return len(t.m) }
