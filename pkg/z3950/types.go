package z3950

// PDU Tags
const (
	TagInitializeRequest  = 20
	TagInitializeResponse = 21
	TagSearchRequest      = 22
	TagSearchResponse     = 23
	TagPresentRequest     = 24
	TagPresentResponse    = 25
	TagClose              = 48
)

// Bib-1 Use attributes.
const (
	UseAttributePersonalName = 1
	UseAttributeTitle        = 4
	UseAttributeISBN         = 7
	UseAttributeISSN         = 8
	UseAttributeSubject      = 21
	UseAttributeDatePub      = 31
	UseAttributeAuthor       = 1003
	UseAttributeAny          = 1016
)

// QueryNode is the interface for nodes in the query tree (Leaf or Complex).
type QueryNode interface {
	isQueryNode()
}

// QueryClause represents a leaf node (a single search term).
type QueryClause struct {
	Attribute int
	Term      string
}

func (QueryClause) isQueryNode() {}

// QueryComplex represents a branch node (boolean operation).
type QueryComplex struct {
	Operator string // "AND", "OR", "AND-NOT"
	Left     QueryNode
	Right    QueryNode
}

func (QueryComplex) isQueryNode() {}

// StructuredQuery represents a parsed Z39.50 query as a Tree.
type StructuredQuery struct {
	Root QueryNode
}

// And folds clauses into a left-deep AND tree. It returns nil for no clauses.
func And(clauses ...QueryClause) QueryNode {
	var root QueryNode
	for _, c := range clauses {
		if root == nil {
			root = c
			continue
		}
		root = QueryComplex{Operator: "AND", Left: root, Right: c}
	}
	return root
}
