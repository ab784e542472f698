package server

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
)

func seed(t *testing.T, c *testConn) {
	t.Helper()
	for _, rec := range []string{
		`[Key = "s1"; Ad = [Owner = "alice"; Cpus = 8; Memory = 100]]`,
		`[Key = "s2"; Ad = [Owner = "bob"; Cpus = 2; Memory = 200]]`,
		`[Key = "s3"; Ad = [Owner = "alice"; Cpus = 4]]`,
	} {
		c.send(api.OpAddClassAd, rec)
	}
}

func TestQueryMatchAndPostlude(t *testing.T) {
	server, _ := startServer(t)
	c := dial(t, server)
	seed(t, c)

	c.send(api.OpQueryView, `[Requirements = Owner == "alice"; WantPostlude = true]`)
	items := c.strings()
	want := []string{
		`[Key="s1";Ad=[ Owner = "alice"; Cpus = 8; Memory = 100 ]]`,
		`[Key="s3";Ad=[ Owner = "alice"; Cpus = 4 ]]`,
		api.DoneSentinel,
	}
	if len(items) != len(want)+1 {
		t.Fatalf("got %d items: %q", len(items), items)
	}
	if diff := cmp.Diff(want, items[:len(want)]); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
	post, err := classad.Parse(items[len(items)-1])
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := post.EvalInt(api.AttrNumResults); n != 2 {
		t.Errorf("NumResults = %d", n)
	}
	if code, _ := post.EvalInt(api.AttrErrCode); code != 0 {
		t.Errorf("ErrCode = %d", code)
	}
	if v, _ := post.EvalString(api.AttrViewName); v != api.RootView {
		t.Errorf("ViewName = %q", v)
	}
}

func TestQueryCountOnly(t *testing.T) {
	server, _ := startServer(t)
	c := dial(t, server)
	seed(t, c)
	c.send(api.OpQueryView, `[Requirements = Cpus > 1; WantResults = false; WantPostlude = true]`)
	items := c.strings()
	if len(items) != 2 || items[0] != api.DoneSentinel {
		t.Fatalf("items = %q", items)
	}
	post, _ := classad.Parse(items[1])
	if n, _ := post.EvalInt(api.AttrNumResults); n != 3 {
		t.Errorf("NumResults = %d", n)
	}
}

func TestQueryProjection(t *testing.T) {
	server, _ := startServer(t)
	c := dial(t, server)
	seed(t, c)
	c.send(api.OpQueryView, `[ProjectionAttrs = {"Memory", "Owner"}]`)
	items := c.strings()
	want := []string{
		`[Key="s1";Ad=[Memory = 100;Owner = "alice";]]`,
		`[Key="s2";Ad=[Memory = 200;Owner = "bob";]]`,
		`[Key="s3";Ad=[Owner = "alice";]]`,
		api.DoneSentinel,
	}
	if diff := cmp.Diff(want, items); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
	for _, it := range items[:3] {
		if _, err := classad.Parse(it); err != nil {
			t.Errorf("projected result %q does not parse: %v", it, err)
		}
	}
}

func TestQueryNoSuchView(t *testing.T) {
	server, _ := startServer(t)
	c := dial(t, server)

	c.send(api.OpQueryView, `[ViewName = "missing"]`)
	if items := c.strings(); len(items) != 0 {
		t.Errorf("items = %q, want none", items)
	}

	c.send(api.OpQueryView, `[ViewName = "missing"; WantPostlude = true]`)
	items := c.strings()
	if len(items) != 1 {
		t.Fatalf("items = %q", items)
	}
	post, _ := classad.Parse(items[0])
	if code, _ := post.EvalInt(api.AttrErrCode); api.Code(code) != api.NoSuchView {
		t.Errorf("ErrCode = %d", code)
	}

	// the connection is still usable
	c.send(api.OpGetAllActiveTransactions, `[]`)
	c.ack(api.OpAckReadOp)
}

func TestQuerySubView(t *testing.T) {
	server, _ := startServer(t)
	c := dial(t, server)
	seed(t, c)
	c.send(api.OpCreateSubView, `[ViewName = "byCpu"; ParentViewName = "root"; Rank = -Cpus]`)
	c.ack(api.OpAckViewOp)
	c.send(api.OpQueryView, `[ViewName = "byCpu"; ProjectionAttrs = {"Cpus"}]`)
	want := []string{
		`[Key="s1";Ad=[Cpus = 8;]]`,
		`[Key="s3";Ad=[Cpus = 4;]]`,
		`[Key="s2";Ad=[Cpus = 2;]]`,
		api.DoneSentinel,
	}
	if diff := cmp.Diff(want, c.strings()); diff != "" {
		t.Errorf("rank order (-want +got):\n%s", diff)
	}
}
