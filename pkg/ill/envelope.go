package ill

import (
	"fmt"

	"github.com/yourusername/open-ill-broker/pkg/search"
)

// Operations.
const (
	OpCreate  = "create"
	OpConfirm = "confirm"
	OpRenew   = "renew"
	OpCancel  = "cancel"
	OpStatus  = "status"
	OpMigrate = "migrate"
)

// Stages and migration steps.
const (
	StageInit          = "init"
	StageSearchForm    = "search_form"
	StageBorrowers     = "borrowers"
	StageSearchResults = "search_results"
	StageCommit        = "commit"
	StageConfirm       = "confirm"
	StageRenew         = "renew"
	StageCancel        = "cancel"
	StageStatus        = "status"

	StepImmigrate = "immigrate"
	StepEmigrate  = "emigrate"
)

// Host destinations returned in Envelope.Next.
const (
	NextView     = "illview"
	NextList     = "illlist"
	NextEmigrate = "emigrate"
)

// Envelope status codes. These are stable and meant for UI branching;
// Message carries the human-readable text.
const (
	CodeOK              = ""
	CodeMissingBranch   = "missing_branch"
	CodeInvalidBranch   = "invalid_branch"
	CodeInvalidBorrower = "invalid_borrower"
	CodeUnknownStage    = "unknown_stage"
	CodeUnknownRequest  = "unknown_request"
	CodeNotRenewed      = "not_renewed"
	CodeNotImplemented  = "not_implemented"
	CodeEmptyQuery      = "empty_query"
	CodeUnknownTarget   = "unknown_target"
	CodeMissingBibID    = "missing_bib_id"
	CodeMissingRecord   = "missing_record"
	CodeImportFailed    = "import_failed"
	CodeTransportError  = "transport_error"
	CodeRemoteError     = "remote_error"
	CodeInvalidStatus   = "invalid_status"
	CodeInternalError   = "internal_error"
)

// Envelope is the uniform answer to every operation on every path.
type Envelope struct {
	Error     bool   `json:"error"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Operation string `json:"operation"`
	Stage     string `json:"stage"`
	Next      string `json:"next,omitempty"`
	Value     any    `json:"value"`
}

func ok(op, stage string, value any) Envelope {
	return Envelope{Operation: op, Stage: stage, Value: value}
}

func commit(op, next string, value any) Envelope {
	return Envelope{Operation: op, Stage: StageCommit, Next: next, Value: value}
}

func fail(op, stage, code, format string, args ...any) Envelope {
	return Envelope{Error: true, Status: code, Message: fmt.Sprintf(format, args...), Operation: op, Stage: stage}
}

// Params is everything the host sends with one invocation. Which fields
// matter depends on Operation, Stage and Step.
type Params struct {
	Operation string `json:"operation"`
	Stage     string `json:"stage"`
	Step      string `json:"step,omitempty"`

	RequestID int64 `json:"request_id,omitempty"`

	Borrower   string `json:"borrower,omitempty"`    // card number, surname or first name
	BorrowerID int64  `json:"borrower_id,omitempty"` // chosen patron, after disambiguation
	Branch     string `json:"branch,omitempty"`

	Query    search.Query `json:"query"`
	Targets  []string     `json:"targets,omitempty"`
	Start    int          `json:"start,omitempty"`
	PageSize int          `json:"page_size,omitempty"`

	StagingRef int64  `json:"staging_ref,omitempty"`
	Framework  string `json:"framework,omitempty"`
}

// Stage payloads carried in Envelope.Value.

type SearchFormValue struct {
	Targets []string `json:"targets"`
	Branch  string   `json:"branch,omitempty"`
}

type BorrowersValue struct {
	Candidates []Candidate  `json:"candidates"`
	Branch     string       `json:"branch"`
	Query      search.Query `json:"query"`
	Targets    []string     `json:"targets,omitempty"`
}

type Candidate struct {
	ID         int64  `json:"id"`
	CardNumber string `json:"card_number"`
	Surname    string `json:"surname"`
	FirstName  string `json:"firstname"`
}

type SearchResultsValue struct {
	RequestID  int64            `json:"request_id,omitempty"` // migrate: the original request
	BorrowerID int64            `json:"borrower_id"`
	Branch     string           `json:"branch"`
	Query      search.Query     `json:"query"`
	Search     *search.Response `json:"search"`
}

type CommitValue struct {
	RequestID         int64  `json:"request_id"`
	BiblioID          int64  `json:"biblio_id,omitempty"`
	RemoteID          string `json:"remote_id,omitempty"`
	OriginalRequestID int64  `json:"original_request_id,omitempty"`
}
