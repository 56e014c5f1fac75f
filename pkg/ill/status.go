package ill

// Request status codes.
const (
	StatusNew      = "NEW"
	StatusReq      = "REQ"
	StatusReqRev   = "REQREV"
	StatusComplete = "COMPLETE"
	StatusMig      = "MIG"
)

// Values written to the request's status attribute.
const (
	AttrStatusNew      = "New"
	AttrStatusOnOrder  = "On order"
	AttrStatusRenewed  = "Renewed"
	AttrStatusReverted = "Reverted"
)

// StatusInfo describes one node of the status graph for the host UI.
type StatusInfo struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Prev        []string `json:"prev_actions"`
	Next        []string `json:"next_actions"`
	Methods     []string `json:"ui_methods"`
}

var statusGraph = []StatusInfo{
	{
		Code:        StatusNew,
		Name:        "New request",
		Description: "A new request has been placed but not yet sent to the partner.",
		Next:        []string{StatusReq, StatusMig},
		Methods:     []string{OpConfirm, OpStatus, OpMigrate},
	},
	{
		Code:        StatusReq,
		Name:        "Requested",
		Description: "A hold has been placed with the partner library and the item is on order.",
		Prev:        []string{StatusNew},
		Next:        []string{StatusReqRev, StatusComplete},
		Methods:     []string{OpRenew, OpCancel, OpStatus},
	},
	{
		Code:        StatusReqRev,
		Name:        "Request reverted",
		Description: "The request was cancelled with the partner, or migrated away.",
		Prev:        []string{StatusReq, StatusMig},
		Methods:     []string{OpStatus},
	},
	{
		Code:        StatusComplete,
		Name:        "Completed",
		Description: "The loan has been fulfilled or renewed.",
		Prev:        []string{StatusReq},
		Methods:     []string{OpRenew, OpStatus},
	},
	{
		Code:        StatusMig,
		Name:        "Migrating",
		Description: "A replacement request exists on another backend; this one awaits revocation.",
		Prev:        []string{StatusNew, StatusReq},
		Next:        []string{StatusReqRev},
		Methods:     []string{OpMigrate},
	},
}

// StatusGraph returns a copy of the status graph.
func StatusGraph() []StatusInfo {
	out := make([]StatusInfo, len(statusGraph))
	copy(out, statusGraph)
	return out
}

func ValidStatus(code string) bool {
	for _, s := range statusGraph {
		if s.Code == code {
			return true
		}
	}
	return false
}
