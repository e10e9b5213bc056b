package expr

// Expressions.
type (
	node interface{ pos() int }

	literal struct {
		at    int
		value any
	}
	ident struct {
		at   int
		name string
	}
	arrayLit struct {
		at    int
		elems []node
	}
	objectLit struct {
		at     int
		keys   []string
		values []node
	}
	member struct {
		at       int
		object   node
		property string
		optional bool
	}
	indexExpr struct {
		at     int
		object node
		index  node
	}
	call struct {
		at     int
		callee node
		args   []node
	}
	unary struct {
		at      int
		op      string
		operand node
	}
	binary struct {
		at          int
		op          string
		left, right node
	}
	logical struct {
		at          int
		op          string // && || ??
		left, right node
	}
	conditional struct {
		at                 int
		test, then, orElse node
	}
	arrowFunc struct {
		at     int
		params []string
		body   node   // expression body
		block  []stmt // block body, when body is nil
	}
)

func (n *literal) pos() int     { return n.at }
func (n *ident) pos() int       { return n.at }
func (n *arrayLit) pos() int    { return n.at }
func (n *objectLit) pos() int   { return n.at }
func (n *member) pos() int      { return n.at }
func (n *indexExpr) pos() int   { return n.at }
func (n *call) pos() int        { return n.at }
func (n *unary) pos() int       { return n.at }
func (n *binary) pos() int      { return n.at }
func (n *logical) pos() int     { return n.at }
func (n *conditional) pos() int { return n.at }
func (n *arrowFunc) pos() int   { return n.at }

// Statements.
type (
	stmt interface{ stmtPos() int }

	declStmt struct {
		at       int
		name     string
		init     node
		constant bool
	}
	assignStmt struct {
		at     int
		target node // ident, member or indexExpr
		op     string
		value  node
	}
	exprStmt struct {
		at int
		x  node
	}
	ifStmt struct {
		at     int
		test   node
		then   stmt
		orElse stmt
	}
	forOfStmt struct {
		at       int
		name     string
		iterable node
		body     stmt
	}
	whileStmt struct {
		at   int
		test node
		body stmt
	}
	blockStmt struct {
		at    int
		stmts []stmt
	}
	returnStmt struct {
		at    int
		value node
	}
	throwStmt struct {
		at    int
		value node
	}
	breakStmt    struct{ at int }
	continueStmt struct{ at int }
)

func (s *declStmt) stmtPos() int     { return s.at }
func (s *assignStmt) stmtPos() int   { return s.at }
func (s *exprStmt) stmtPos() int     { return s.at }
func (s *ifStmt) stmtPos() int       { return s.at }
func (s *forOfStmt) stmtPos() int    { return s.at }
func (s *whileStmt) stmtPos() int    { return s.at }
func (s *blockStmt) stmtPos() int    { return s.at }
func (s *returnStmt) stmtPos() int   { return s.at }
func (s *throwStmt) stmtPos() int    { return s.at }
func (s *breakStmt) stmtPos() int    { return s.at }
func (s *continueStmt) stmtPos() int { return s.at }
