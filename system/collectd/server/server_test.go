package server

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
	"github.com/signadot/adcoll/system/collectd/storage"
	"github.com/signadot/adcoll/system/collectd/wire"
)

type testConn struct {
	t    *testing.T
	nc   net.Conn
	wire *wire.Conn
}

func startServer(t *testing.T) (*Server, *storage.Storage) {
	t.Helper()
	return startServerWith(t, nil)
}

func startServerWith(t *testing.T, cfg *Config) (*Server, *storage.Storage) {
	t.Helper()
	store, err := storage.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	server := New(&Spec{Storage: store, Config: cfg})
	if err := server.StartTCP("127.0.0.1:0"); err != nil {
		t.Fatalf("failed to start TCP: %v", err)
	}
	t.Cleanup(func() { server.StopTCP() })
	return server, store
}

func dial(t *testing.T, server *Server) *testConn {
	t.Helper()
	nc, err := net.Dial("tcp", server.TCPAddr())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	nc.SetDeadline(time.Now().Add(5 * time.Second))
	return &testConn{t: t, nc: nc, wire: wire.NewConn(nc)}
}

func (c *testConn) send(op api.Op, text string) {
	c.t.Helper()
	c.wire.Encode()
	if err := c.wire.PutInt(int64(op)); err != nil {
		c.t.Fatalf("send %s: %v", op, err)
	}
	if text != "" {
		if err := c.wire.PutString(text); err != nil {
			c.t.Fatalf("send %s: %v", op, err)
		}
	}
	if err := c.wire.EndOfMessage(); err != nil {
		c.t.Fatalf("send %s: %v", op, err)
	}
}

func (c *testConn) reply() (api.Op, *classad.Ad) {
	c.t.Helper()
	c.wire.Decode()
	op, err := c.wire.GetInt()
	if err != nil {
		c.t.Fatalf("read reply op: %v", err)
	}
	text, err := c.wire.GetString()
	if err != nil {
		c.t.Fatalf("read reply: %v", err)
	}
	if err := c.wire.EndOfMessage(); err != nil {
		c.t.Fatalf("read reply end: %v", err)
	}
	ad, err := classad.Parse(text)
	if err != nil {
		c.t.Fatalf("parse reply %q: %v", text, err)
	}
	return api.Op(op), ad
}

// ack reads a reply, checks its opcode and returns its ad and code.
func (c *testConn) ack(want api.Op) (*classad.Ad, api.Code) {
	c.t.Helper()
	op, ad := c.reply()
	if op != want {
		c.t.Fatalf("reply op = %s, want %s (%s)", op, want, ad)
	}
	code, ok := ad.EvalInt(api.AttrErrCode)
	if !ok {
		c.t.Fatalf("reply has no ErrCode: %s", ad)
	}
	return ad, api.Code(code)
}

// strings reads string items up to the end of the current message.
func (c *testConn) strings() []string {
	c.t.Helper()
	c.wire.Decode()
	var res []string
	for {
		s, err := c.wire.GetString()
		if errors.Is(err, wire.ErrEndOfMessage) {
			c.wire.EndOfMessage()
			return res
		}
		if err != nil {
			c.t.Fatalf("read result: %v", err)
		}
		res = append(res, s)
	}
}

func (c *testConn) expectClosed() {
	c.t.Helper()
	c.wire.Decode()
	if _, err := c.wire.GetInt(); !errors.Is(err, io.EOF) {
		c.t.Fatalf("expected closed connection, got %v", err)
	}
}

func TestFireAndForgetSendsNothing(t *testing.T) {
	server, _ := startServer(t)
	c := dial(t, server)
	c.send(api.OpConnect, "")
	c.send(api.OpAddClassAd, `[Key = "a"; WantAck = false; Ad = [x = 1]]`)
	c.send(api.OpGetClassAd, `[Key = "a"]`)
	// the first reply on the wire answers the read
	ad, code := c.ack(api.OpAckReadOp)
	if code != api.OK {
		t.Fatalf("GetClassAd code = %s", code)
	}
	if got, _ := ad.EvalAd(api.AttrAd); got.String() != "[ x = 1 ]" {
		t.Errorf("Ad = %s", got)
	}

	c.send(api.OpAddClassAd, `[Key = "b"; WantAck = true; Ad = [x = 2]]`)
	ad, code = c.ack(api.OpAckClassAdOp)
	if code != api.OK {
		t.Errorf("add code = %s", code)
	}
	if op, _ := ad.EvalInt(api.AttrOpType); api.Op(op) != api.OpAddClassAd {
		t.Errorf("ack OpType = %d", op)
	}

	c.send(api.OpRemoveClassAd, `[Key = "zz"; WantAck = true]`)
	if _, code := c.ack(api.OpAckClassAdOp); code != api.NoSuchClassAd {
		t.Errorf("remove missing code = %s", code)
	}
}

func TestTransactionCommitAndAbort(t *testing.T) {
	server, store := startServer(t)
	c := dial(t, server)

	c.send(api.OpOpenTransaction, `[XactionName = "t1"]`)
	if _, code := c.ack(api.OpAckOpenTransaction); code != api.OK {
		t.Fatalf("open code = %s", code)
	}
	c.send(api.OpAddClassAd, `[XactionName = "t1"; Key = "a"; WantAck = true; Ad = [x = 1]]`)
	if _, code := c.ack(api.OpAckClassAdOp); code != api.OK {
		t.Fatalf("buffer code = %s", code)
	}
	c.send(api.OpAddClassAd, `[XactionName = "t1"; Key = "b"; Ad = [x = 2]]`)

	c.send(api.OpGetClassAd, `[Key = "a"]`)
	if _, code := c.ack(api.OpAckReadOp); code != api.NoSuchClassAd {
		t.Fatalf("buffered ad visible before commit: %s", code)
	}

	c.send(api.OpCommitTransaction, `[XactionName = "t1"]`)
	if _, code := c.ack(api.OpAckCommitTransaction); code != api.OK {
		t.Fatalf("commit code = %s", code)
	}
	if n := store.LogEntries(); n != 1 {
		t.Errorf("log entries after commit = %d, want 1", n)
	}
	c.send(api.OpGetClassAd, `[Key = "b"]`)
	if _, code := c.ack(api.OpAckReadOp); code != api.OK {
		t.Fatalf("committed ad missing: %s", code)
	}

	c.send(api.OpOpenTransaction, `[XactionName = "t2"]`)
	c.ack(api.OpAckOpenTransaction)
	c.send(api.OpRemoveClassAd, `[XactionName = "t2"; Key = "a"]`)
	c.send(api.OpAbortTransaction, `[XactionName = "t2"]`)
	c.send(api.OpGetClassAd, `[Key = "a"]`)
	if _, code := c.ack(api.OpAckReadOp); code != api.OK {
		t.Fatalf("aborted remove took effect: %s", code)
	}
	if n := store.LogEntries(); n != 1 {
		t.Errorf("log entries after abort = %d, want 1", n)
	}
}

func TestFailedCommitReportsCause(t *testing.T) {
	server, _ := startServer(t)
	c := dial(t, server)
	c.send(api.OpOpenTransaction, `[XactionName = "t"]`)
	c.ack(api.OpAckOpenTransaction)
	c.send(api.OpUpdateClassAd, `[XactionName = "t"; Key = "missing"; Ad = [x = 1]]`)
	c.send(api.OpCommitTransaction, `[XactionName = "t"]`)
	ad, code := c.ack(api.OpAckCommitTransaction)
	if code != api.NoSuchClassAd {
		t.Fatalf("commit code = %s", code)
	}
	cause, ok := ad.EvalAd(api.AttrErrorCause)
	if !ok {
		t.Fatalf("no ErrorCause in %s", ad)
	}
	if k, _ := cause.EvalString(api.AttrKey); k != "missing" {
		t.Errorf("ErrorCause key = %q", k)
	}
	c.send(api.OpGetServerTransactionState, `[XactionName = "t"]`)
	ad, _ = c.ack(api.OpAckReadOp)
	if s, _ := ad.EvalInt(api.AttrResult); api.XactionState(s) != api.XactionAbsent {
		t.Errorf("failed transaction state = %d", s)
	}
}

func TestUnknownTransaction(t *testing.T) {
	server, store := startServer(t)
	c := dial(t, server)
	c.send(api.OpAddClassAd, `[XactionName = "ghost"; Key = "a"; WantAck = true; Ad = [x = 1]]`)
	ad, code := c.ack(api.OpAckClassAdOp)
	if code != api.NoSuchTransaction {
		t.Fatalf("code = %s", code)
	}
	if _, ok := ad.EvalAd(api.AttrErrorCause); !ok {
		t.Errorf("no ErrorCause in %s", ad)
	}

	// without an ack the request is dropped and the connection survives
	c.send(api.OpAddClassAd, `[XactionName = "ghost"; Key = "a"; Ad = [x = 1]]`)
	c.send(api.OpGetAllActiveTransactions, `[]`)
	c.ack(api.OpAckReadOp)
	if store.LogEntries() != 0 {
		t.Errorf("log entries = %d", store.LogEntries())
	}
}

func TestTransactionStates(t *testing.T) {
	server, _ := startServer(t)
	c := dial(t, server)
	state := func() api.XactionState {
		t.Helper()
		c.send(api.OpGetServerTransactionState, `[XactionName = "t"]`)
		ad, code := c.ack(api.OpAckReadOp)
		if code != api.OK {
			t.Fatalf("state code = %s", code)
		}
		s, _ := ad.EvalInt(api.AttrResult)
		return api.XactionState(s)
	}

	if s := state(); s != api.XactionAbsent {
		t.Errorf("before open: %s", s)
	}
	c.send(api.OpOpenTransaction, `[XactionName = "t"]`)
	c.ack(api.OpAckOpenTransaction)
	if s := state(); s != api.XactionActive {
		t.Errorf("after open: %s", s)
	}
	c.send(api.OpOpenTransaction, `[XactionName = "t"]`)
	if _, code := c.ack(api.OpAckOpenTransaction); code != api.TransactionExists {
		t.Errorf("reopen code = %s", code)
	}
	if s := state(); s != api.XactionActive {
		t.Errorf("after failed reopen: %s", s)
	}
	c.send(api.OpCommitTransaction, `[XactionName = "t"]`)
	c.ack(api.OpAckCommitTransaction)
	if s := state(); s != api.XactionCommitted {
		t.Errorf("after commit: %s", s)
	}

	c.send(api.OpGetAllCommittedTransactions, `[]`)
	ad, _ := c.ack(api.OpAckReadOp)
	names, _ := ad.EvalStringList(api.AttrCommitXactions)
	if diff := cmp.Diff([]string{"t"}, names); diff != "" {
		t.Errorf("committed (-want +got):\n%s", diff)
	}

	c.send(api.OpForgetTransaction, `[XactionName = "t"]`)
	if s := state(); s != api.XactionAbsent {
		t.Errorf("after forget: %s", s)
	}
}

type failingAppender struct{}

func (failingAppender) Append(*classad.Ad) error {
	return errors.New("disk full")
}

func TestCommitLogFailureIsFatal(t *testing.T) {
	server, store := startServer(t)
	c := dial(t, server)
	c.send(api.OpOpenTransaction, `[XactionName = "t"]`)
	c.ack(api.OpAckOpenTransaction)
	c.send(api.OpAddClassAd, `[XactionName = "t"; Key = "a"; Ad = [x = 1]]`)

	store.SetAppender(failingAppender{})
	c.send(api.OpCommitTransaction, `[XactionName = "t"]`)
	c.expectClosed()
	if !store.Fatal() {
		t.Fatal("storage not poisoned")
	}

	c2 := dial(t, server)
	c2.send(api.OpAddClassAd, `[Key = "b"; WantAck = true; Ad = [x = 1]]`)
	if _, code := c2.ack(api.OpAckClassAdOp); code != api.FatalError {
		t.Errorf("mutation after fatal error: %s", code)
	}
	c2.expectClosed()
}

func TestViewOpLogFailure(t *testing.T) {
	server, store := startServer(t)
	store.SetAppender(failingAppender{})
	c := dial(t, server)
	c.send(api.OpCreateSubView, `[ViewName = "v"; ParentViewName = "root"]`)
	if _, code := c.ack(api.OpAckViewOp); code != api.FileWriteFailed {
		t.Errorf("code = %s", code)
	}
	c.expectClosed()
}

func TestViewOpsAndReads(t *testing.T) {
	server, _ := startServer(t)
	c := dial(t, server)
	c.send(api.OpCreateSubView, `[ViewName = "big"; ParentViewName = "root"; Requirements = Cpus >= 4]`)
	if _, code := c.ack(api.OpAckViewOp); code != api.OK {
		t.Fatalf("create code = %s", code)
	}
	c.send(api.OpCreateSubView, `[ViewName = "big"; ParentViewName = "root"]`)
	if _, code := c.ack(api.OpAckViewOp); code != api.ViewPresent {
		t.Errorf("duplicate create code = %s", code)
	}
	c.send(api.OpSetViewInfo, `[ViewName = "big"; ViewInfo = [Requirements = Cpus >= 4; PartitionExprs = {Arch}]]`)
	c.ack(api.OpAckViewOp)
	c.send(api.OpAddClassAd, `[Key = "m1"; Ad = [Cpus = 8; Arch = "ARM"]]`)

	c.send(api.OpGetViewInfo, `[ViewName = "big"]`)
	ad, code := c.ack(api.OpAckReadOp)
	if code != api.OK {
		t.Fatalf("info code = %s", code)
	}
	info, _ := ad.EvalAd(api.AttrViewInfo)
	if n, _ := info.EvalInt(api.AttrNumMembers); n != 1 {
		t.Errorf("NumMembers = %d", n)
	}

	c.send(api.OpGetPartitionedViewNames, `[ViewName = "big"]`)
	ad, _ = c.ack(api.OpAckReadOp)
	parts, _ := ad.EvalStringList(api.AttrPartitioned)
	if diff := cmp.Diff([]string{`big:<|"ARM"|>`}, parts); diff != "" {
		t.Errorf("partitions (-want +got):\n%s", diff)
	}

	c.send(api.OpFindPartitionName, `[ViewName = "big"; Ad = [Arch = "ARM"]]`)
	ad, _ = c.ack(api.OpAckReadOp)
	if b, _ := ad.EvalBool(api.AttrResult); !b {
		t.Errorf("partition not found: %s", ad)
	}
	if p, _ := ad.EvalString(api.AttrPartitionName); p != parts[0] {
		t.Errorf("PartitionName = %q", p)
	}
	c.send(api.OpFindPartitionName, `[ViewName = "big"]`)
	if _, code := c.ack(api.OpAckReadOp); code != api.BadClassAd {
		t.Errorf("missing representative code = %s", code)
	}

	c.send(api.OpGetViewInfo, `[ViewName = "nope"]`)
	if _, code := c.ack(api.OpAckReadOp); code != api.NoSuchView {
		t.Errorf("missing view code = %s", code)
	}
	c.send(api.OpGetClassAd, `[]`)
	if _, code := c.ack(api.OpAckReadOp); code != api.NoKey {
		t.Errorf("missing key code = %s", code)
	}

	c.send(api.OpDeleteView, `[ViewName = "big"]`)
	c.ack(api.OpAckViewOp)
	c.send(api.OpGetSubordinateViewNames, `[ViewName = "root"]`)
	ad, _ = c.ack(api.OpAckReadOp)
	if subs, _ := ad.EvalStringList(api.AttrSubordinate); len(subs) != 0 {
		t.Errorf("subordinates after delete = %v", subs)
	}
}

func TestParseErrorClosesConnection(t *testing.T) {
	server, _ := startServer(t)
	c := dial(t, server)
	c.send(api.OpGetClassAd, `[Key = `)
	c.expectClosed()
}

func TestUnknownOpcodeClosesConnection(t *testing.T) {
	server, _ := startServer(t)
	c := dial(t, server)
	c.send(api.Op(99), `[]`)
	c.expectClosed()
}

func TestDisconnect(t *testing.T) {
	server, _ := startServer(t)
	c := dial(t, server)
	c.send(api.OpConnect, "")
	c.send(api.OpDisconnect, "")
	c.expectClosed()
}

func TestCheckpointThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Checkpoint.MaxEntries = 3
	server, store := startServerWith(t, cfg)
	c := dial(t, server)
	for _, k := range []string{"a", "b", "c"} {
		c.send(api.OpAddClassAd, `[Key = "`+k+`"; WantAck = true; Ad = [x = 1]]`)
		c.ack(api.OpAckClassAdOp)
	}
	if n := store.LogEntries(); n != 0 {
		t.Errorf("log entries after threshold = %d", n)
	}
	recs, err := storage.ReadLog(store.Dir())
	if err != nil {
		t.Fatal(err)
	}
	// root view info plus three ads
	if len(recs) != 4 {
		t.Errorf("checkpointed log has %d records", len(recs))
	}
}
