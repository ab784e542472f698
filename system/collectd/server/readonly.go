package server

import (
	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
	"github.com/signadot/adcoll/system/collectd/storage"
)

// handleReadOnly answers a read-only request with one AckReadOp reply.
func (d *Dispatcher) handleReadOnly(op api.Op, rec *classad.Ad) error {
	var r *reply
	err := d.store.View(func(c *storage.Collection) error {
		ack, err := readOnly(c, op, rec)
		if err != nil {
			return err
		}
		// attachments borrow from the collection, so render under the lock
		r = render(ack)
		return nil
	})
	if err != nil {
		return err
	}
	return sendReply(d.conn, r.op, r.payload)
}

func readOnly(c *storage.Collection, op api.Op, rec *classad.Ad) (*api.Ack, error) {
	switch op {
	case api.OpGetClassAd:
		key, _ := rec.EvalString(api.AttrKey)
		ad, err := c.GetClassAd(key)
		return api.NewAck(op, err).AttachAd(api.AttrAd, ad), nil

	case api.OpGetViewInfo:
		name, _ := rec.EvalString(api.AttrViewName)
		info, err := c.GetViewInfo(name)
		return api.NewAck(op, err).AttachAd(api.AttrViewInfo, info), nil

	case api.OpGetPartitionedViewNames, api.OpGetSubordinateViewNames:
		name, _ := rec.EvalString(api.AttrViewName)
		var (
			names []string
			err   error
			attr  string
		)
		if op == api.OpGetPartitionedViewNames {
			names, err = c.GetPartitionedViewNames(name)
			attr = api.AttrPartitioned
		} else {
			names, err = c.GetSubordinateViewNames(name)
			attr = api.AttrSubordinate
		}
		ack := api.NewAck(op, err)
		if err == nil {
			ack.Attach(attr, classad.StringList(names))
		}
		return ack, nil

	case api.OpFindPartitionName:
		name, _ := rec.EvalString(api.AttrViewName)
		rep, _ := rec.EvalAd(api.AttrAd)
		part, found, err := c.FindPartitionName(name, rep)
		ack := api.NewAck(op, err)
		if err == nil {
			ack.Attach(api.AttrResult, classad.Bool(found))
			if found {
				ack.Attach(api.AttrPartitionName, classad.String(part))
			}
		}
		return ack, nil

	case api.OpIsActiveTransaction, api.OpIsCommittedTransaction, api.OpGetServerTransactionState:
		name, _ := rec.EvalString(api.AttrXactionName)
		if name == "" {
			return api.NewAck(op, api.NewError(api.NoTransactionName, "bad or missing transaction name")), nil
		}
		tab := c.Xactions()
		ack := api.NewAck(op, nil)
		switch op {
		case api.OpIsActiveTransaction:
			ack.Attach(api.AttrResult, classad.Bool(tab.IsActive(name)))
		case api.OpIsCommittedTransaction:
			ack.Attach(api.AttrResult, classad.Bool(tab.IsCommitted(name)))
		default:
			ack.Attach(api.AttrResult, classad.Int(int64(tab.State(name))))
		}
		return ack, nil

	case api.OpGetAllActiveTransactions:
		return api.NewAck(op, nil).Attach(api.AttrActiveXactions, classad.StringList(c.Xactions().Active())), nil

	case api.OpGetAllCommittedTransactions:
		return api.NewAck(op, nil).Attach(api.AttrCommitXactions, classad.StringList(c.Xactions().Committed())), nil
	}
	return nil, api.Errorf(api.InternalError, "unhandled read-only op %s", op)
}
