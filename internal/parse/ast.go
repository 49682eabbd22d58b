package parse

// Statement is a parsed query statement.
//
// This is a sealed interface; the variants are SelectStatement,
// UpdateStatement and DeleteStatement.
type Statement interface {
	statementNode()
}

// Expr is a parsed expression or predicate.
//
// This is a sealed interface; consumers switch exhaustively over the
// variants declared in this file.
type Expr interface {
	exprNode()
}

// Pos is a 1-based source position.
type Pos struct {
	Line   int
	Column int
}

// JoinKind is the kind of an explicit join.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
)

func (k JoinKind) String() string {
	switch k {
	case JoinLeft:
		return "left"
	case JoinRight:
		return "right"
	case JoinFull:
		return "full"
	case JoinCross:
		return "cross"
	default:
		return "inner"
	}
}

// SelectStatement is `[select ...] from ... [where] [group by] [having]
// [order by] [limit] [offset]`.
type SelectStatement struct {
	Distinct bool
	// Select is nil when the statement has no select clause.
	Select  []*SelectItem
	From    []*FromRoot
	Where   Expr
	GroupBy []Expr
	Having  Expr
	OrderBy []*SortItem
	Limit   Expr
	Offset  Expr
}

func (*SelectStatement) statementNode() {}

// SelectItem is one selection with an optional alias.
type SelectItem struct {
	Expr  Expr
	Alias string
}

// FromRoot is an entity reference in the from clause together with its joins.
type FromRoot struct {
	Entity string
	Alias  string
	Joins  []*Join
	Pos    Pos
}

// Join is an explicit join. Path is the attribute path being joined
// (`p.children`); With is the optional additional join condition.
type Join struct {
	Kind  JoinKind
	Fetch bool
	Path  *PathExpr
	Alias string
	With  Expr
	Pos   Pos
}

// UpdateStatement is `update Entity [alias] set path = expr, ... [where]`.
type UpdateStatement struct {
	Entity string
	Alias  string
	Set    []*Assignment
	Where  Expr
	Pos    Pos
}

func (*UpdateStatement) statementNode() {}

// Assignment is one `path = value` pair of an update.
type Assignment struct {
	Path  *PathExpr
	Value Expr
}

// DeleteStatement is `delete [from] Entity [alias] [where]`.
type DeleteStatement struct {
	Entity string
	Alias  string
	Where  Expr
	Pos    Pos
}

func (*DeleteStatement) statementNode() {}

// SortItem is one order-by entry.
type SortItem struct {
	Expr       Expr
	Descending bool
}

// LiteralKind classifies a literal.
type LiteralKind int

const (
	LitString LiteralKind = iota
	LitInteger
	LitDecimal
	LitBoolean
	LitNull
)

// Literal is a constant. Text holds the unquoted source form.
type Literal struct {
	Kind LiteralKind
	Text string
	Pos  Pos
}

// TemporalKind is the escape kind of a temporal literal.
type TemporalKind int

const (
	TemporalTimestamp TemporalKind = iota // {ts '...'}
	TemporalDate                          // {d '...'}
	TemporalTime                          // {t '...'}
)

// TemporalLiteral is a JDBC-style escape `{ts '2024-01-02 10:00:00'}`.
type TemporalLiteral struct {
	Kind TemporalKind
	Text string
	Pos  Pos
}

// NamedParam is `:name`.
type NamedParam struct {
	Name string
	Pos  Pos
}

// PositionalParam is `?N`.
type PositionalParam struct {
	Position int
	Pos      Pos
}

// PathExpr is a dotted attribute path `p.children.name`.
type PathExpr struct {
	Parts []string
	Pos   Pos
}

// String returns the dotted form.
func (p *PathExpr) String() string {
	out := ""
	for i, part := range p.Parts {
		if i > 0 {
			out += "."
		}
		out += part
	}
	return out
}

// Binary is an arithmetic or concatenation operator: + - * / ||.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

// Unary is a sign operator: - +.
type Unary struct {
	Op      string
	Operand Expr
}

// Comparison is = <> < <= > >=.
type Comparison struct {
	Op    string
	Left  Expr
	Right Expr
}

// Logical is `and` / `or`.
type Logical struct {
	Op    string
	Left  Expr
	Right Expr
}

// Not negates a predicate.
type Not struct {
	Expr Expr
}

// InList is `expr [not] in (a, b, ...)` or `expr [not] in :param`.
type InList struct {
	Expr  Expr
	Not   bool
	Items []Expr
}

// Between is `expr [not] between low and high`.
type Between struct {
	Expr Expr
	Not  bool
	Low  Expr
	High Expr
}

// NullCheck is `expr is [not] null`.
type NullCheck struct {
	Expr Expr
	Not  bool
}

// Like is `expr [not] like pattern [escape e]`.
type Like struct {
	Expr    Expr
	Not     bool
	Pattern Expr
	Escape  Expr
}

// FuncCall is a function invocation. Star marks `count(*)`.
type FuncCall struct {
	Name     string
	Distinct bool
	Star     bool
	Args     []Expr
	Pos      Pos
}

// InstantiationKind is the target of a `select new` expression.
type InstantiationKind int

const (
	InstantiateClass InstantiationKind = iota // new pkg.Type(...)
	InstantiateList                           // new list(...)
	InstantiateMap                            // new map(... as key)
)

// Instantiation is `new Type(args)`, `new list(args)` or `new map(args)`.
type Instantiation struct {
	Kind      InstantiationKind
	ClassName string
	Args      []*SelectItem
	Pos       Pos
}

func (*Literal) exprNode()         {}
func (*TemporalLiteral) exprNode() {}
func (*NamedParam) exprNode()      {}
func (*PositionalParam) exprNode() {}
func (*PathExpr) exprNode()        {}
func (*Binary) exprNode()          {}
func (*Unary) exprNode()           {}
func (*Comparison) exprNode()      {}
func (*Logical) exprNode()         {}
func (*Not) exprNode()             {}
func (*InList) exprNode()          {}
func (*Between) exprNode()         {}
func (*NullCheck) exprNode()       {}
func (*Like) exprNode()            {}
func (*FuncCall) exprNode()        {}
func (*Instantiation) exprNode()   {}
