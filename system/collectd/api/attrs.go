package api

// Request and reply attribute names.
const (
	AttrOpType         = "OpType"
	AttrXactionName    = "XactionName"
	AttrLocalXaction   = "LocalTransaction"
	AttrWantAck        = "WantAck"
	AttrKey            = "Key"
	AttrAd             = "Ad"
	AttrErrCode        = "ErrCode"
	AttrErrMsg         = "ErrMsg"
	AttrErrorCause     = "ErrorCause"
	AttrResult         = "Result"
	AttrRecords        = "Records"
	AttrViewName       = "ViewName"
	AttrParentViewName = "ParentViewName"
	AttrViewInfo       = "ViewInfo"
	AttrRequirements   = "Requirements"
	AttrRank           = "Rank"
	AttrPartitionExprs = "PartitionExprs"
	AttrRepresentative = "Representative"
	AttrPartitionName  = "PartitionName"
	AttrNumMembers     = "NumMembers"
	AttrSubordinate    = "SubordinateViews"
	AttrPartitioned    = "PartitionedViews"
	AttrActiveXactions = "ActiveTransactions"
	AttrCommitXactions = "CommittedTransactions"

	AttrWantResults     = "WantResults"
	AttrWantPostlude    = "WantPostlude"
	AttrProjectionAttrs = "ProjectionAttrs"
	AttrNumResults      = "NumResults"
)

// RootView is the name of the view every collection starts with.
const RootView = "root"

// DoneSentinel terminates a query result stream.
const DoneSentinel = "<done>"
