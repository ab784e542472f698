package client

import (
	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
)

// adOp sends an ad operation, inside the current transaction if there is
// one.
func (c *Client) adOp(op api.Op, key string, ad *classad.Ad) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := classad.New()
	if c.current != "" {
		rec.Insert(api.AttrXactionName, classad.String(c.current))
	}
	rec.Insert(api.AttrKey, classad.String(key))
	if ad != nil {
		rec.Insert(api.AttrAd, classad.AdValue(ad))
	}
	_, err := c.send(op, rec, c.ackMode == WantAcks)
	return err
}

// AddClassAd inserts ad under key, replacing any ad already there.
func (c *Client) AddClassAd(key string, ad *classad.Ad) error {
	return c.adOp(api.OpAddClassAd, key, ad)
}

// UpdateClassAd merges the attributes of ad into the ad under key.
func (c *Client) UpdateClassAd(key string, ad *classad.Ad) error {
	return c.adOp(api.OpUpdateClassAd, key, ad)
}

// ModifyClassAd applies the modification directives in mod to the ad
// under key.
func (c *Client) ModifyClassAd(key string, mod *classad.Ad) error {
	return c.adOp(api.OpModifyClassAd, key, mod)
}

func (c *Client) RemoveClassAd(key string) error {
	return c.adOp(api.OpRemoveClassAd, key, nil)
}

// request sends a request that is always answered and returns the ack.
func (c *Client) request(op api.Op, rec *classad.Ad) (*classad.Ad, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(op, rec, true)
}

func viewRec(name string) *classad.Ad {
	rec := classad.New()
	rec.Insert(api.AttrViewName, classad.String(name))
	return rec
}

// GetClassAd fetches the ad stored under key.
func (c *Client) GetClassAd(key string) (*classad.Ad, error) {
	rec := classad.New()
	rec.Insert(api.AttrKey, classad.String(key))
	ack, err := c.request(api.OpGetClassAd, rec)
	if err != nil {
		return nil, err
	}
	ad, ok := ack.EvalAd(api.AttrAd)
	if !ok {
		return nil, api.Errorf(api.BadServerAck, "ack has no %s", api.AttrAd)
	}
	return ad, nil
}

// CreateSubView creates view name under parent. info carries its
// Requirements, Rank and PartitionExprs and may be nil.
func (c *Client) CreateSubView(name, parent string, info *classad.Ad) error {
	rec := viewInfoRec(name, parent, info)
	_, err := c.request(api.OpCreateSubView, rec)
	return err
}

// CreatePartition creates the partition of parent that rep belongs to.
// An empty name lets the server derive one from the partition signature.
func (c *Client) CreatePartition(name, parent string, info, rep *classad.Ad) error {
	rec := viewInfoRec(name, parent, info)
	if name == "" {
		rec.Delete(api.AttrViewName)
	}
	if rep != nil {
		rec.Insert(api.AttrRepresentative, classad.AdValue(rep))
	}
	_, err := c.request(api.OpCreatePartition, rec)
	return err
}

func viewInfoRec(name, parent string, info *classad.Ad) *classad.Ad {
	var rec *classad.Ad
	if info != nil {
		rec = info.Copy()
	} else {
		rec = classad.New()
	}
	rec.Insert(api.AttrViewName, classad.String(name))
	rec.Insert(api.AttrParentViewName, classad.String(parent))
	return rec
}

func (c *Client) DeleteView(name string) error {
	_, err := c.request(api.OpDeleteView, viewRec(name))
	return err
}

// SetViewInfo replaces the constraint, rank and partition expressions of
// view name.
func (c *Client) SetViewInfo(name string, info *classad.Ad) error {
	rec := viewRec(name)
	rec.Insert(api.AttrViewInfo, classad.AdValue(info))
	_, err := c.request(api.OpSetViewInfo, rec)
	return err
}

func (c *Client) GetViewInfo(name string) (*classad.Ad, error) {
	ack, err := c.request(api.OpGetViewInfo, viewRec(name))
	if err != nil {
		return nil, err
	}
	info, ok := ack.EvalAd(api.AttrViewInfo)
	if !ok {
		return nil, api.Errorf(api.BadServerAck, "ack has no %s", api.AttrViewInfo)
	}
	return info, nil
}

func (c *Client) GetSubordinateViewNames(name string) ([]string, error) {
	return c.viewNames(api.OpGetSubordinateViewNames, api.AttrSubordinate, name)
}

func (c *Client) GetPartitionedViewNames(name string) ([]string, error) {
	return c.viewNames(api.OpGetPartitionedViewNames, api.AttrPartitioned, name)
}

func (c *Client) viewNames(op api.Op, attr, name string) ([]string, error) {
	ack, err := c.request(op, viewRec(name))
	if err != nil {
		return nil, err
	}
	names, ok := ack.EvalStringList(attr)
	if !ok {
		return nil, api.Errorf(api.BadServerAck, "ack has no %s", attr)
	}
	return names, nil
}

// FindPartitionName returns the partition of view name that rep would
// land in, and whether that partition exists.
func (c *Client) FindPartitionName(name string, rep *classad.Ad) (string, bool, error) {
	rec := viewRec(name)
	rec.Insert(api.AttrAd, classad.AdValue(rep))
	ack, err := c.request(api.OpFindPartitionName, rec)
	if err != nil {
		return "", false, err
	}
	found, _ := ack.EvalBool(api.AttrResult)
	if !found {
		return "", false, nil
	}
	part, ok := ack.EvalString(api.AttrPartitionName)
	if !ok {
		return "", false, api.Errorf(api.BadServerAck, "ack has no %s", api.AttrPartitionName)
	}
	return part, true, nil
}

func (c *Client) IsActiveTransaction(name string) (bool, error) {
	return c.xactionCheck(api.OpIsActiveTransaction, name)
}

func (c *Client) IsCommittedTransaction(name string) (bool, error) {
	return c.xactionCheck(api.OpIsCommittedTransaction, name)
}

func (c *Client) xactionCheck(op api.Op, name string) (bool, error) {
	ack, err := c.request(op, xactionRec(name))
	if err != nil {
		return false, err
	}
	b, ok := ack.EvalBool(api.AttrResult)
	if !ok {
		return false, api.Errorf(api.BadServerAck, "ack has no %s", api.AttrResult)
	}
	return b, nil
}

// GetServerTransactionState reports what the server knows about name.
func (c *Client) GetServerTransactionState(name string) (api.XactionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverState(name)
}

func (c *Client) GetAllActiveTransactions() ([]string, error) {
	return c.xactionList(api.OpGetAllActiveTransactions, api.AttrActiveXactions)
}

func (c *Client) GetAllCommittedTransactions() ([]string, error) {
	return c.xactionList(api.OpGetAllCommittedTransactions, api.AttrCommitXactions)
}

func (c *Client) xactionList(op api.Op, attr string) ([]string, error) {
	ack, err := c.request(op, classad.New())
	if err != nil {
		return nil, err
	}
	names, ok := ack.EvalStringList(attr)
	if !ok {
		return nil, api.Errorf(api.BadServerAck, "ack has no %s", attr)
	}
	return names, nil
}
