package query

// Logical field names the compiler emits. The content store owns the mapping
// from these to concrete document paths.
const (
	FieldKind      = "kind"
	FieldSymbol    = "symbol"
	FieldTimestamp = "timestamp"
)

// Node is one node of a compiled filter predicate. The variant is closed:
// Equals, Or, And, GreaterEq, and LessEq are the only implementations, so
// store translations can switch exhaustively.
type Node interface {
	isNode()
}

// Equals matches documents whose field equals the value exactly.
type Equals struct {
	Field string
	Value string
}

// Or matches documents satisfying at least one child.
type Or struct {
	Nodes []Node
}

// And matches documents satisfying every child.
type And struct {
	Nodes []Node
}

// GreaterEq is an inclusive lower bound on a numeric field, in epoch seconds
// for timestamps.
type GreaterEq struct {
	Field string
	Value int64
}

// LessEq is an inclusive upper bound on a numeric field.
type LessEq struct {
	Field string
	Value int64
}

func (Equals) isNode()    {}
func (Or) isNode()        {}
func (And) isNode()       {}
func (GreaterEq) isNode() {}
func (LessEq) isNode()    {}

// Compile translates a normalized filter into a predicate tree. Each present
// dimension contributes one condition: a single value becomes Equals,
// multiple values become an Or of Equals in input order, and the time range
// becomes inclusive bounds. Conditions combine with And in fixed dimension
// order; a lone condition is returned bare and an empty filter compiles to
// nil (matches everything). Equal filters always compile to structurally
// equal trees.
func Compile(f Filter) Node {
	var conds []Node
	if n := dimension(FieldKind, f.Types); n != nil {
		conds = append(conds, n)
	}
	if n := dimension(FieldSymbol, f.Symbols); n != nil {
		conds = append(conds, n)
	}
	if f.From != nil {
		conds = append(conds, GreaterEq{Field: FieldTimestamp, Value: f.From.Unix()})
	}
	if f.To != nil {
		conds = append(conds, LessEq{Field: FieldTimestamp, Value: f.To.Unix()})
	}

	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		return And{Nodes: conds}
	}
}

func dimension(field string, values []string) Node {
	switch len(values) {
	case 0:
		return nil
	case 1:
		return Equals{Field: field, Value: values[0]}
	default:
		nodes := make([]Node, 0, len(values))
		for _, v := range values {
			nodes = append(nodes, Equals{Field: field, Value: v})
		}
		return Or{Nodes: nodes}
	}
}
