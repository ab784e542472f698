package api

import (
	"strconv"
	"strings"

	"github.com/signadot/adcoll/classad"
)

// Ack is a single-message reply. Attached payloads are borrowed: the ack
// renders them but never takes ownership or inserts them into another ad.
type Ack struct {
	Op     Op
	OpType Op
	Err    *Error

	attached []attachment
}

type attachment struct {
	name string
	expr *classad.Expr
	ad   *classad.Ad
}

// NewAck builds the ack answering a request of type opType. A nil err
// reports OK.
func NewAck(opType Op, err error) *Ack {
	return &Ack{
		Op:     AckFor(opType),
		OpType: opType,
		Err:    AsError(err),
	}
}

// Attach adds a borrowed expression under name.
func (a *Ack) Attach(name string, e *classad.Expr) *Ack {
	if e != nil {
		a.attached = append(a.attached, attachment{name: name, expr: e})
	}
	return a
}

// AttachAd adds a borrowed ad under name.
func (a *Ack) AttachAd(name string, ad *classad.Ad) *Ack {
	if ad != nil {
		a.attached = append(a.attached, attachment{name: name, ad: ad})
	}
	return a
}

func (a *Ack) Code() Code {
	if a.Err == nil {
		return OK
	}
	return a.Err.Code
}

// Unparse renders the ack payload.
func (a *Ack) Unparse() string {
	var b strings.Builder
	b.WriteString("[ ")
	b.WriteString(AttrOpType)
	b.WriteString(" = ")
	b.WriteString(strconv.FormatInt(int64(a.OpType), 10))
	b.WriteString("; ")
	b.WriteString(AttrErrCode)
	b.WriteString(" = ")
	b.WriteString(strconv.FormatInt(int64(a.Code()), 10))
	b.WriteString("; ")
	b.WriteString(AttrErrMsg)
	b.WriteString(" = ")
	msg := ""
	if a.Err != nil {
		msg = a.Err.Message
	}
	b.WriteString(strconv.Quote(msg))
	for _, at := range a.attached {
		b.WriteString("; ")
		b.WriteString(at.name)
		b.WriteString(" = ")
		if at.ad != nil {
			b.WriteString(classad.Unparse(at.ad))
		} else {
			b.WriteString(at.expr.String())
		}
	}
	b.WriteString(" ]")
	return b.String()
}

// ErrorFromAd reads ErrCode and ErrMsg from a reply ad. It returns nil
// when the reply reports OK.
func ErrorFromAd(ad *classad.Ad) *Error {
	code, ok := ad.EvalInt(AttrErrCode)
	if !ok {
		return NewError(BadServerAck, "reply has no "+AttrErrCode)
	}
	if Code(code) == OK {
		return nil
	}
	msg, _ := ad.EvalString(AttrErrMsg)
	return NewError(Code(code), msg)
}
