package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
)

func openStore(t *testing.T, dir string) *Storage {
	t.Helper()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func xrec(t *testing.T, op api.Op, key, ad string) *classad.Ad {
	t.Helper()
	src := `[Key = "` + key + `"`
	if ad != "" {
		src += `; Ad = ` + ad
	}
	rec := mustParse(t, src+`]`)
	rec.Insert(api.AttrOpType, classad.Int(int64(op)))
	return rec
}

func TestXactionLifecycle(t *testing.T) {
	c := NewCollection()
	tab := c.Xactions()
	if _, err := c.PlayXactionOp(api.OpOpenTransaction, "t1", classad.New()); err != nil {
		t.Fatal(err)
	}
	if got := tab.State("t1"); got != api.XactionActive {
		t.Errorf("state = %s", got)
	}
	_, err := c.PlayXactionOp(api.OpOpenTransaction, "t1", classad.New())
	wantCode(t, err, api.TransactionExists)
	if !tab.IsActive("t1") {
		t.Error("failed open disturbed the existing transaction")
	}
	_, err = c.PlayXactionOp(api.OpOpenTransaction, "", classad.New())
	wantCode(t, err, api.NoTransactionName)

	if err := tab.Append("t1", api.OpAddClassAd, "a", xrec(t, api.OpAddClassAd, "a", `[x = 1]`)); err != nil {
		t.Fatal(err)
	}
	if c.Get("a") != nil {
		t.Fatal("buffered op applied before commit")
	}
	if _, err := c.PlayXactionOp(api.OpCommitTransaction, "t1", classad.New()); err != nil {
		t.Fatal(err)
	}
	if c.Get("a") == nil {
		t.Fatal("commit did not apply")
	}
	if got := tab.State("t1"); got != api.XactionCommitted {
		t.Errorf("state = %s", got)
	}
	wantCode(t, tab.Append("t1", api.OpRemoveClassAd, "a", xrec(t, api.OpRemoveClassAd, "a", "")), api.BadTransactionState)
	_, err = c.PlayXactionOp(api.OpCommitTransaction, "t1", classad.New())
	wantCode(t, err, api.BadTransactionState)

	if diff := cmp.Diff([]string{"t1"}, tab.Committed()); diff != "" {
		t.Errorf("committed (-want +got):\n%s", diff)
	}
	if _, err := c.PlayXactionOp(api.OpForgetTransaction, "t1", classad.New()); err != nil {
		t.Fatal(err)
	}
	if got := tab.State("t1"); got != api.XactionAbsent {
		t.Errorf("state = %s", got)
	}

	_, err = c.PlayXactionOp(api.OpCommitTransaction, "nope", classad.New())
	wantCode(t, err, api.NoSuchTransaction)
	_, err = c.PlayXactionOp(api.OpAbortTransaction, "nope", classad.New())
	wantCode(t, err, api.NoSuchTransaction)
}

func TestLocalXactionLeavesOnCommit(t *testing.T) {
	c := NewCollection()
	if _, err := c.PlayXactionOp(api.OpOpenTransaction, "l", mustParse(t, `[LocalTransaction = true]`)); err != nil {
		t.Fatal(err)
	}
	x, err := c.PlayXactionOp(api.OpCommitTransaction, "l", classad.New())
	if err != nil {
		t.Fatal(err)
	}
	if !x.Local {
		t.Error("transaction not local")
	}
	if c.Xactions().Len() != 0 {
		t.Error("local transaction still in table")
	}
}

func TestCommitIsAtomic(t *testing.T) {
	c := NewCollection()
	addAd(t, c, "keep", `[v = 1]`)
	tab := c.Xactions()
	if _, err := tab.Open("t", false); err != nil {
		t.Fatal(err)
	}
	tab.Append("t", api.OpUpdateClassAd, "keep", xrec(t, api.OpUpdateClassAd, "keep", `[v = 2]`))
	tab.Append("t", api.OpAddClassAd, "new", xrec(t, api.OpAddClassAd, "new", `[v = 3]`))
	bad := xrec(t, api.OpRemoveClassAd, "missing", "")
	tab.Append("t", api.OpRemoveClassAd, "missing", bad)

	x, err := c.PlayXactionOp(api.OpCommitTransaction, "t", classad.New())
	wantCode(t, err, api.NoSuchClassAd)
	if x.ErrorCause() != bad {
		t.Errorf("error cause = %v", x.ErrorCause())
	}
	if v, _ := c.Get("keep").EvalInt("v"); v != 1 {
		t.Errorf("keep.v = %d after failed commit", v)
	}
	if c.Get("new") != nil {
		t.Error("new ad survived failed commit")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestFailedCommitDropsNewPartitions(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	var partitions []string
	err := s.Update(func(c *Collection, w Appender) error {
		for _, rec := range []*classad.Ad{
			mustParse(t, `[OpType = 33; ViewName = "root"; ViewInfo = [PartitionExprs = {Arch}]]`),
			xrec(t, api.OpAddClassAd, "keep", `[Arch = "X86"]`),
		} {
			if err := c.Replay(rec); err != nil {
				return err
			}
			if err := w.Append(rec); err != nil {
				return err
			}
		}
		if _, err := c.PlayXactionOp(api.OpOpenTransaction, "t", classad.New()); err != nil {
			return err
		}
		tab := c.Xactions()
		tab.Append("t", api.OpAddClassAd, "a", xrec(t, api.OpAddClassAd, "a", `[Arch = "ARM"]`))
		tab.Append("t", api.OpUpdateClassAd, "keep", xrec(t, api.OpUpdateClassAd, "keep", `[Arch = "MIPS"]`))
		tab.Append("t", api.OpUpdateClassAd, "zz", xrec(t, api.OpUpdateClassAd, "zz", `[Arch = "ARM"]`))

		_, err := c.PlayXactionOp(api.OpCommitTransaction, "t", classad.New())
		wantCode(t, err, api.NoSuchClassAd)

		partitions = c.root.PartitionNames()
		for _, name := range []string{`root:<|"ARM"|>`, `root:<|"MIPS"|>`} {
			if _, ok := c.View(name); ok {
				t.Errorf("partition %s survived failed commit", name)
			}
		}
		p, ok := c.View(`root:<|"X86"|>`)
		if !ok {
			t.Fatal("X86 partition lost")
		}
		if diff := cmp.Diff([]string{"keep"}, p.Keys()); diff != "" {
			t.Errorf("X86 members (-want +got):\n%s", diff)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{`root:<|"X86"|>`}, partitions); diff != "" {
		t.Errorf("partitions (-want +got):\n%s", diff)
	}
	s.Close()

	s2 := openStore(t, dir)
	s2.View(func(c *Collection) error {
		if diff := cmp.Diff(partitions, c.root.PartitionNames()); diff != "" {
			t.Errorf("recovered partitions (-want +got):\n%s", diff)
		}
		return nil
	})
}

func TestRecovery(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	err := s.Update(func(c *Collection, w Appender) error {
		for _, rec := range []*classad.Ad{
			mustParse(t, `[OpType = 30; ViewName = "big"; ParentViewName = "root"; Requirements = Cpus > 2]`),
			xrec(t, api.OpAddClassAd, "a", `[Cpus = 4]`),
			xrec(t, api.OpAddClassAd, "b", `[Cpus = 1]`),
		} {
			op, _ := rec.EvalInt(api.AttrOpType)
			var err error
			if api.Op(op).IsViewOp() {
				err = c.PlayViewOp(api.Op(op), rec)
			} else {
				err = c.PlayClassAdOp(api.Op(op), rec)
			}
			if err != nil {
				return err
			}
			if err := w.Append(rec); err != nil {
				return err
			}
		}
		if _, err := c.PlayXactionOp(api.OpOpenTransaction, "t", classad.New()); err != nil {
			return err
		}
		c.Xactions().Append("t", api.OpUpdateClassAd, "b", xrec(t, api.OpUpdateClassAd, "b", `[Cpus = 8]`))
		x, err := c.PlayXactionOp(api.OpCommitTransaction, "t", classad.New())
		if err != nil {
			return err
		}
		return w.Append(CommitRecord(x))
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.LogEntries() != 4 {
		t.Errorf("LogEntries = %d", s.LogEntries())
	}
	s.Close()

	s2 := openStore(t, dir)
	s2.View(func(c *Collection) error {
		v, ok := c.View("big")
		if !ok {
			t.Fatal("view not recovered")
		}
		if diff := cmp.Diff([]string{"a", "b"}, v.Keys()); diff != "" {
			t.Errorf("members (-want +got):\n%s", diff)
		}
		if got := c.Xactions().State("t"); got != api.XactionCommitted {
			t.Errorf("transaction state = %s", got)
		}
		return nil
	})
}

func TestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	err := s.Update(func(c *Collection, w Appender) error {
		recs := []*classad.Ad{
			mustParse(t, `[OpType = 33; ViewName = "root"; ViewInfo = [PartitionExprs = {Arch}]]`),
			xrec(t, api.OpAddClassAd, "a", `[Arch = "ARM"]`),
			xrec(t, api.OpAddClassAd, "b", `[Arch = "X86"]`),
			xrec(t, api.OpUpdateClassAd, "b", `[Arch = "ARM"]`),
			xrec(t, api.OpAddClassAd, "c", `[Arch = "X86"]`),
			xrec(t, api.OpRemoveClassAd, "c", ""),
		}
		for _, rec := range recs {
			if err := c.Replay(rec); err != nil {
				return err
			}
			if err := w.Append(rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	var before []string
	s.View(func(c *Collection) error {
		before = c.root.PartitionNames()
		return nil
	})
	if err := s.Checkpoint(); err != nil {
		t.Fatal(err)
	}
	if s.LogEntries() != 0 {
		t.Errorf("LogEntries after checkpoint = %d", s.LogEntries())
	}
	recs, err := ReadLog(dir)
	if err != nil {
		t.Fatal(err)
	}
	// root info, two partitions, two ads
	if len(recs) != 5 {
		t.Errorf("checkpoint wrote %d records", len(recs))
	}
	s.Close()

	s2 := openStore(t, dir)
	s2.View(func(c *Collection) error {
		if diff := cmp.Diff(before, c.root.PartitionNames()); diff != "" {
			t.Errorf("partitions (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"a", "b"}, c.Keys()); diff != "" {
			t.Errorf("keys (-want +got):\n%s", diff)
		}
		return nil
	})
	if _, err := os.Stat(filepath.Join(dir, LogFileName+".tmp")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temporary checkpoint file left behind: %v", err)
	}
}

func TestTornTail(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	s.Update(func(c *Collection, w Appender) error {
		rec := xrec(t, api.OpAddClassAd, "a", `[x = 1]`)
		c.PlayClassAdOp(api.OpAddClassAd, rec)
		return w.Append(rec)
	})
	size := s.LogSize()
	s.Close()

	f, err := os.OpenFile(filepath.Join(dir, LogFileName), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{0, 0, 0, 40, '[', ' '})
	f.Close()

	s2 := openStore(t, dir)
	if s2.LogSize() != size {
		t.Errorf("LogSize = %d, want %d", s2.LogSize(), size)
	}
	s2.View(func(c *Collection) error {
		if c.Len() != 1 {
			t.Errorf("Len = %d", c.Len())
		}
		return nil
	})
}

type failingAppender struct{}

func (failingAppender) Append(*classad.Ad) error {
	return api.NewError(api.FileWriteFailed, "disk full")
}

func TestFatalPoisonsStorage(t *testing.T) {
	s := openStore(t, t.TempDir())
	s.SetAppender(failingAppender{})
	err := s.Update(func(c *Collection, w Appender) error {
		return w.Append(classad.New())
	})
	wantCode(t, err, api.FileWriteFailed)
	if !s.Fatal() {
		t.Fatal("storage not poisoned")
	}
	called := false
	err = s.Update(func(*Collection, Appender) error {
		called = true
		return nil
	})
	if called || !errors.Is(err, ErrFatal) {
		t.Errorf("update after failure: called=%v err=%v", called, err)
	}
	if err := s.Checkpoint(); !errors.Is(err, ErrFatal) {
		t.Errorf("checkpoint after failure: %v", err)
	}
}
