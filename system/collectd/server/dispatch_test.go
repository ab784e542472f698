package server

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
	"github.com/signadot/adcoll/system/collectd/storage"
	"github.com/signadot/adcoll/system/collectd/wire"
)

type recordingMutator struct {
	ops  []api.Op
	keys []string
}

func (m *recordingMutator) Apply(op api.Op, rec *classad.Ad) error {
	m.ops = append(m.ops, op)
	key, _ := rec.EvalString(api.AttrKey)
	m.keys = append(m.keys, key)
	return nil
}

func TestDispatcherRoutesMutations(t *testing.T) {
	store, err := storage.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	client, srv := net.Pipe()
	defer client.Close()
	m := &recordingMutator{}
	session := NewSession("pipe-1", srv, &SessionConfig{
		Storage: store,
		Mutator: func(*wire.Conn) Mutator { return m },
	})
	done := make(chan error, 1)
	go func() { done <- session.Run() }()

	c := &testConn{t: t, nc: client, wire: wire.NewConn(client)}
	client.SetDeadline(time.Now().Add(5 * time.Second))
	c.send(api.OpAddClassAd, `[Key = "a"; Ad = [x = 1]]`)
	c.send(api.OpCreateSubView, `[ViewName = "v"; ParentViewName = "root"]`)
	c.send(api.OpGetClassAd, `[Key = "a"]`)
	// the mutator took the add, so the store has nothing
	if _, code := c.ack(api.OpAckReadOp); code != api.NoSuchClassAd {
		t.Errorf("code = %s", code)
	}
	c.send(api.OpDisconnect, "")
	if err := <-done; err != nil {
		t.Fatalf("session: %v", err)
	}
	if diff := cmp.Diff([]api.Op{api.OpAddClassAd, api.OpCreateSubView}, m.ops); diff != "" {
		t.Errorf("ops (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", ""}, m.keys); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
}

func TestOutcome(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, Normal},
		{api.NewError(api.NoSuchClassAd, ""), Normal},
		{api.NewError(api.NoSuchTransaction, ""), Normal},
		{api.NewError(api.FatalError, ""), Error},
		{api.NewError(api.CommunicationError, ""), Error},
		{api.NewError(api.ParseError, ""), Error},
		{api.NewError(api.FileWriteFailed, ""), Error},
		{os.ErrClosed, Error},
	}
	for _, tt := range tests {
		if got, _ := d.outcome(api.OpAddClassAd, tt.err); got != tt.want {
			t.Errorf("outcome(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collectd.yaml")
	data := "listen: 127.0.0.1:7000\nmaxSessions: 8\ncheckpoint:\n  maxEntries: 50\n  interval: 30s\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		Listen:      "127.0.0.1:7000",
		Sync:        true,
		MaxSessions: 8,
		Checkpoint: &CheckpointConfig{
			MaxEntries: 50,
			Interval:   api.Duration(30 * time.Second),
		},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("checkpoint:\n  maxEntries: -1\n"), 0644)
	if _, err := LoadConfig(bad); err == nil {
		t.Error("negative maxEntries accepted")
	}
	os.WriteFile(bad, []byte("maxSessions: -2\n"), 0644)
	if _, err := LoadConfig(bad); err == nil {
		t.Error("negative maxSessions accepted")
	}
}
