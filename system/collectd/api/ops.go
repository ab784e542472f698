package api

import "fmt"

// Op is a request or reply opcode. Values are part of the wire protocol.
type Op int64

const (
	OpConnect    Op = 1
	OpDisconnect Op = 2
	OpQueryView  Op = 3

	OpOpenTransaction   Op = 10
	OpCommitTransaction Op = 11
	OpAbortTransaction  Op = 12
	OpForgetTransaction Op = 13

	OpAddClassAd    Op = 20
	OpUpdateClassAd Op = 21
	OpModifyClassAd Op = 22
	OpRemoveClassAd Op = 23

	OpCreateSubView   Op = 30
	OpCreatePartition Op = 31
	OpDeleteView      Op = 32
	OpSetViewInfo     Op = 33

	OpGetClassAd                  Op = 40
	OpGetViewInfo                 Op = 41
	OpGetPartitionedViewNames     Op = 42
	OpGetSubordinateViewNames     Op = 43
	OpFindPartitionName           Op = 44
	OpIsActiveTransaction         Op = 45
	OpIsCommittedTransaction      Op = 46
	OpGetServerTransactionState   Op = 47
	OpGetAllActiveTransactions    Op = 48
	OpGetAllCommittedTransactions Op = 49

	OpAckOpenTransaction   Op = 60
	OpAckCommitTransaction Op = 61
	OpAckViewOp            Op = 62
	OpAckClassAdOp         Op = 63
	OpAckReadOp            Op = 64
)

var opNames = map[Op]string{
	OpConnect:                     "Connect",
	OpDisconnect:                  "Disconnect",
	OpQueryView:                   "QueryView",
	OpOpenTransaction:             "OpenTransaction",
	OpCommitTransaction:           "CommitTransaction",
	OpAbortTransaction:            "AbortTransaction",
	OpForgetTransaction:           "ForgetTransaction",
	OpAddClassAd:                  "AddClassAd",
	OpUpdateClassAd:               "UpdateClassAd",
	OpModifyClassAd:               "ModifyClassAd",
	OpRemoveClassAd:               "RemoveClassAd",
	OpCreateSubView:               "CreateSubView",
	OpCreatePartition:             "CreatePartition",
	OpDeleteView:                  "DeleteView",
	OpSetViewInfo:                 "SetViewInfo",
	OpGetClassAd:                  "GetClassAd",
	OpGetViewInfo:                 "GetViewInfo",
	OpGetPartitionedViewNames:     "GetPartitionedViewNames",
	OpGetSubordinateViewNames:     "GetSubordinateViewNames",
	OpFindPartitionName:           "FindPartitionName",
	OpIsActiveTransaction:         "IsActiveTransaction",
	OpIsCommittedTransaction:      "IsCommittedTransaction",
	OpGetServerTransactionState:   "GetServerTransactionState",
	OpGetAllActiveTransactions:    "GetAllActiveTransactions",
	OpGetAllCommittedTransactions: "GetAllCommittedTransactions",
	OpAckOpenTransaction:          "AckOpenTransaction",
	OpAckCommitTransaction:        "AckCommitTransaction",
	OpAckViewOp:                   "AckViewOp",
	OpAckClassAdOp:                "AckClassAdOp",
	OpAckReadOp:                   "AckReadOp",
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", int64(op))
}

// ParseOp returns the opcode with the given name.
func ParseOp(name string) (Op, bool) {
	for op, s := range opNames {
		if s == name {
			return op, true
		}
	}
	return 0, false
}

func (op Op) IsXactionOp() bool {
	return op >= OpOpenTransaction && op <= OpForgetTransaction
}

func (op Op) IsClassAdOp() bool {
	return op >= OpAddClassAd && op <= OpRemoveClassAd
}

func (op Op) IsViewOp() bool {
	return op >= OpCreateSubView && op <= OpSetViewInfo
}

func (op Op) IsReadOnly() bool {
	return op >= OpGetClassAd && op <= OpGetAllCommittedTransactions
}

func (op Op) IsAck() bool {
	return op >= OpAckOpenTransaction && op <= OpAckReadOp
}

// IsMutation reports whether op belongs to the mutation family.
func (op Op) IsMutation() bool {
	return op.IsXactionOp() || op.IsClassAdOp() || op.IsViewOp()
}

// AckFor returns the ack opcode a server uses to answer op.
func AckFor(op Op) Op {
	switch {
	case op == OpOpenTransaction:
		return OpAckOpenTransaction
	case op == OpCommitTransaction:
		return OpAckCommitTransaction
	case op.IsViewOp():
		return OpAckViewOp
	case op.IsClassAdOp():
		return OpAckClassAdOp
	case op.IsReadOnly():
		return OpAckReadOp
	}
	return 0
}

// XactionState is the server-side state of a named transaction as
// reported by GetServerTransactionState.
type XactionState int64

const (
	XactionActive    XactionState = 1
	XactionCommitted XactionState = 2
	XactionAbsent    XactionState = 3
)

func (s XactionState) String() string {
	switch s {
	case XactionActive:
		return "active"
	case XactionCommitted:
		return "committed"
	case XactionAbsent:
		return "absent"
	}
	return fmt.Sprintf("XactionState(%d)", int64(s))
}
