package server

import (
	"log/slog"

	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
	"github.com/signadot/adcoll/system/collectd/storage"
	"github.com/signadot/adcoll/system/collectd/wire"
)

// MutationHandler is the transactional Mutator. Transaction and ad
// operations are played on the collection and logged in one storage
// critical section; acks are rendered there and sent after it ends.
type MutationHandler struct {
	Conn    *wire.Conn
	Storage *storage.Storage
	Log     *slog.Logger

	// OnMutation, if set, is called after each logged mutation.
	OnMutation func()
}

// reply is an ack rendered under the storage lock.
type reply struct {
	op      api.Op
	payload string
}

func render(ack *api.Ack) *reply {
	return &reply{op: ack.Op, payload: ack.Unparse()}
}

func (m *MutationHandler) Apply(op api.Op, rec *classad.Ad) error {
	rec.Insert(api.AttrOpType, classad.Int(int64(op)))
	switch {
	case op == api.OpOpenTransaction, op == api.OpCommitTransaction:
		return m.openOrCommit(op, rec)
	case op == api.OpAbortTransaction:
		return m.abort(rec)
	case op == api.OpForgetTransaction:
		return m.forget(rec)
	case op.IsClassAdOp():
		return m.classAdOp(op, rec)
	case op.IsViewOp():
		return m.viewOp(op, rec)
	}
	return api.Errorf(api.InternalError, "%s is not a mutation", op)
}

func (m *MutationHandler) send(r *reply) error {
	if r == nil {
		return nil
	}
	return sendReply(m.Conn, r.op, r.payload)
}

func (m *MutationHandler) logged() {
	if m.OnMutation != nil {
		m.OnMutation()
	}
}

func appendLog(w storage.Appender, op api.Op, rec *classad.Ad) error {
	if err := w.Append(rec); err != nil {
		return api.Errorf(api.FileWriteFailed, "failed to log %s: %v", op, err)
	}
	return nil
}

func (m *MutationHandler) openOrCommit(op api.Op, rec *classad.Ad) error {
	name, _ := rec.EvalString(api.AttrXactionName)
	var (
		r         *reply
		committed bool
	)
	err := m.Storage.Update(func(c *storage.Collection, w storage.Appender) error {
		x, err := c.PlayXactionOp(op, name, rec)
		if err != nil {
			ack := api.NewAck(op, err)
			ack.AttachAd(api.AttrErrorCause, x.ErrorCause())
			r = render(ack)
			if op == api.OpCommitTransaction {
				c.Xactions().Remove(name)
			}
			return nil
		}
		if op == api.OpCommitTransaction {
			if err := w.Append(storage.CommitRecord(x)); err != nil {
				return api.Errorf(api.FatalError,
					"in memory commit of %s succeeded, but log failed: %v", name, err)
			}
			committed = true
		}
		r = render(api.NewAck(op, nil))
		return nil
	})
	if err != nil {
		return err
	}
	if committed {
		m.logged()
	}
	return m.send(r)
}

func (m *MutationHandler) abort(rec *classad.Ad) error {
	name, _ := rec.EvalString(api.AttrXactionName)
	return m.Storage.Update(func(c *storage.Collection, _ storage.Appender) error {
		_, err := c.PlayXactionOp(api.OpAbortTransaction, name, rec)
		return err
	})
}

func (m *MutationHandler) forget(rec *classad.Ad) error {
	name, _ := rec.EvalString(api.AttrXactionName)
	err := m.Storage.Update(func(c *storage.Collection, w storage.Appender) error {
		if _, err := c.PlayXactionOp(api.OpForgetTransaction, name, rec); err != nil {
			m.Log.Debug("forget found nothing", "xaction", name, "error", err)
		}
		return appendLog(w, api.OpForgetTransaction, rec)
	})
	if err == nil {
		m.logged()
	}
	return err
}

func (m *MutationHandler) classAdOp(op api.Op, rec *classad.Ad) error {
	name, _ := rec.EvalString(api.AttrXactionName)
	wantAck, _ := rec.EvalBool(api.AttrWantAck)
	key, _ := rec.EvalString(api.AttrKey)

	if name == "" {
		var playErr error
		err := m.Storage.Update(func(c *storage.Collection, w storage.Appender) error {
			if playErr = c.PlayClassAdOp(op, rec); playErr != nil {
				return nil
			}
			return appendLog(w, op, rec)
		})
		if err == nil && playErr == nil {
			m.logged()
		}
		if err == nil {
			err = playErr
		}
		if !wantAck {
			return err
		}
		if serr := m.send(render(api.NewAck(op, err))); serr != nil {
			return serr
		}
		if api.CodeOf(err).Closes() {
			return err
		}
		return nil
	}

	var r *reply
	err := m.Storage.Update(func(c *storage.Collection, _ storage.Appender) error {
		err := c.Xactions().Append(name, op, key, rec)
		if err == nil {
			if wantAck {
				r = render(api.NewAck(op, nil))
			}
			return nil
		}
		if !wantAck {
			m.Log.Warn("discarding operation for unknown transaction",
				"op", op.String(), "xaction", name, "key", key, "error", err)
			return nil
		}
		r = render(api.NewAck(op, err).AttachAd(api.AttrErrorCause, rec))
		return nil
	})
	if err != nil {
		return err
	}
	return m.send(r)
}

func (m *MutationHandler) viewOp(op api.Op, rec *classad.Ad) error {
	var playErr error
	err := m.Storage.Update(func(c *storage.Collection, w storage.Appender) error {
		if playErr = c.PlayViewOp(op, rec); playErr != nil {
			return nil
		}
		return appendLog(w, op, rec)
	})
	if err == nil && playErr == nil {
		m.logged()
	}
	if err == nil {
		err = playErr
	}
	if serr := m.send(render(api.NewAck(op, err))); serr != nil {
		return serr
	}
	if api.CodeOf(err).Closes() {
		return err
	}
	return nil
}
