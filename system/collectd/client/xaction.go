package client

import (
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
)

// Outcome is the result of closing a transaction.
type Outcome int

const (
	// Unknown means the commit request or its ack was lost; the
	// transaction stays pending and a later CloseTransaction asks the
	// server what happened.
	Unknown Outcome = iota
	Committed
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// OpenTransaction opens a server transaction and makes it current. An
// empty name is replaced by a fresh ULID. It returns the name used.
func (c *Client) OpenTransaction(name string) (string, error) {
	return c.openTransaction(name, false)
}

// OpenLocalTransaction is OpenTransaction for a transaction that the
// server forgets as soon as it commits.
func (c *Client) OpenLocalTransaction(name string) (string, error) {
	return c.openTransaction(name, true)
}

func (c *Client) openTransaction(name string, local bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		name = ulid.Make().String()
	}
	if _, ok := c.xactions[name]; ok {
		return "", api.Errorf(api.TransactionExists, "transaction %s already exists", name)
	}
	rec := xactionRec(name)
	if local {
		rec.Insert(api.AttrLocalXaction, classad.Bool(true))
	}
	if _, err := c.send(api.OpOpenTransaction, rec, true); err != nil {
		return "", err
	}
	c.xactions[name] = &xaction{name: name, local: local}
	c.current = name
	return name, nil
}

// CurrentTransaction returns the name of the transaction ad operations go
// to, empty when they apply directly.
func (c *Client) CurrentTransaction() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetCurrentTransaction directs subsequent ad operations to name, or out
// of any transaction when name is empty.
func (c *Client) SetCurrentTransaction(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name != "" {
		if _, ok := c.xactions[name]; !ok {
			return api.Errorf(api.NoSuchTransaction, "transaction %s not found", name)
		}
	}
	c.current = name
	return nil
}

// Transactions returns the names of the transactions opened through c
// that are not yet closed.
func (c *Client) Transactions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.xactions))
	for name := range c.xactions {
		names = append(names, name)
	}
	return names
}

// CloseTransaction commits or aborts name. Committing runs the commit
// request, waits for its ack and then tells the server to forget the
// transaction. A transaction left pending by a lost commit is resolved by
// asking the server for its state.
func (c *Client) CloseTransaction(name string, commit bool) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	x, ok := c.xactions[name]
	if !ok {
		return Unknown, api.Errorf(api.NoSuchTransaction, "transaction %s not found", name)
	}
	if c.current == name {
		c.current = ""
	}
	if !x.pending {
		if commit {
			return c.commitLocked(x)
		}
		return c.abortLocked(x)
	}

	state, err := c.serverState(name)
	if err != nil {
		return Unknown, err
	}
	switch state {
	case api.XactionAbsent:
		delete(c.xactions, name)
		return Aborted, nil
	case api.XactionCommitted:
		c.forgetLocked(x)
		return Committed, nil
	case api.XactionActive:
		if commit {
			return c.commitLocked(x)
		}
		return c.abortLocked(x)
	}
	return Unknown, api.Errorf(api.BadServerAck, "unexpected transaction state %d", state)
}

func (c *Client) commitLocked(x *xaction) (Outcome, error) {
	x.pending = true
	ack, err := c.send(api.OpCommitTransaction, xactionRec(x.name), true)
	if ack == nil && err != nil {
		return Unknown, err
	}
	if err != nil {
		delete(c.xactions, x.name)
		return Aborted, err
	}
	c.forgetLocked(x)
	return Committed, nil
}

func (c *Client) abortLocked(x *xaction) (Outcome, error) {
	if _, err := c.send(api.OpAbortTransaction, xactionRec(x.name), false); err != nil {
		return Unknown, err
	}
	delete(c.xactions, x.name)
	return Aborted, nil
}

func (c *Client) forgetLocked(x *xaction) {
	if _, err := c.send(api.OpForgetTransaction, xactionRec(x.name), false); err != nil {
		c.log.Warn("failed to forget committed transaction", "xaction", x.name, "error", err)
	}
	delete(c.xactions, x.name)
}

func (c *Client) serverState(name string) (api.XactionState, error) {
	ack, err := c.send(api.OpGetServerTransactionState, xactionRec(name), true)
	if err != nil {
		return 0, err
	}
	state, ok := ack.EvalInt(api.AttrResult)
	if !ok {
		return 0, api.NewError(api.BadServerAck, fmt.Sprintf("ack has no %s", api.AttrResult))
	}
	return api.XactionState(state), nil
}
