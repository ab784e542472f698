package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/signadot/adcoll/classad"
)

func TestOpFamilies(t *testing.T) {
	for op := range opNames {
		n := 0
		for _, in := range []bool{op.IsXactionOp(), op.IsClassAdOp(), op.IsViewOp(), op.IsReadOnly(), op.IsAck()} {
			if in {
				n++
			}
		}
		switch op {
		case OpConnect, OpDisconnect, OpQueryView:
			if n != 0 {
				t.Errorf("%s should not be in a family", op)
			}
		default:
			if n != 1 {
				t.Errorf("%s is in %d families", op, n)
			}
		}
		if got, ok := ParseOp(op.String()); !ok || got != op {
			t.Errorf("ParseOp(%s) = %v %v", op, got, ok)
		}
	}
}

func TestAckFor(t *testing.T) {
	tests := map[Op]Op{
		OpOpenTransaction:   OpAckOpenTransaction,
		OpCommitTransaction: OpAckCommitTransaction,
		OpSetViewInfo:       OpAckViewOp,
		OpRemoveClassAd:     OpAckClassAdOp,
		OpGetViewInfo:       OpAckReadOp,
		OpAbortTransaction:  0,
	}
	for op, want := range tests {
		if got := AckFor(op); got != want {
			t.Errorf("AckFor(%s) = %s, want %s", op, got, want)
		}
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Errorf(NoSuchView, "view %q", "v"))
	if !errors.Is(err, NewError(NoSuchView, "")) {
		t.Error("expected match by code")
	}
	if errors.Is(err, NewError(NoKey, "")) {
		t.Error("unexpected match")
	}
	if got := CodeOf(err); got != NoSuchView {
		t.Errorf("CodeOf = %s", got)
	}
	if got := CodeOf(errors.New("plain")); got != InternalError {
		t.Errorf("CodeOf plain = %s", got)
	}
	if CodeOf(nil) != OK {
		t.Error("CodeOf nil should be OK")
	}
}

func TestAckUnparseBorrows(t *testing.T) {
	stored, err := classad.Parse(`[Key = "k"; Cpus = 2]`)
	if err != nil {
		t.Fatal(err)
	}
	cause, _ := classad.Parse(`[OpType = 11]`)
	ack := NewAck(OpCommitTransaction, NewError(NoSuchTransaction, "no x1")).
		AttachAd(AttrErrorCause, cause).
		Attach("Cpus", stored.Lookup("Cpus"))
	text := ack.Unparse()

	reply, err := classad.Parse(text)
	if err != nil {
		t.Fatalf("parse %q: %v", text, err)
	}
	if op, _ := reply.EvalInt(AttrOpType); Op(op) != OpCommitTransaction {
		t.Errorf("OpType = %d", op)
	}
	e := ErrorFromAd(reply)
	if e == nil || e.Code != NoSuchTransaction || e.Message != "no x1" {
		t.Errorf("ErrorFromAd = %v", e)
	}
	if stored.String() != `[ Key = "k"; Cpus = 2 ]` {
		t.Errorf("stored ad changed: %s", stored)
	}
	if ack.Op != OpAckCommitTransaction {
		t.Errorf("ack op = %s", ack.Op)
	}
}

func TestErrorFromAdOK(t *testing.T) {
	ad, _ := classad.Parse(`[ErrCode = 0; ErrMsg = ""]`)
	if e := ErrorFromAd(ad); e != nil {
		t.Errorf("expected nil, got %v", e)
	}
	ad, _ = classad.Parse(`[ErrMsg = ""]`)
	if e := ErrorFromAd(ad); e == nil || e.Code != BadServerAck {
		t.Errorf("expected BadServerAck, got %v", e)
	}
}
