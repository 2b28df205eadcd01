// Package mask implements boolean predicates over voxel values.
package mask

import (
	"strings"

	"voxedit/internal/world"
)

// Kind tags a mask node.
type Kind uint8

const (
	KindTypes Kind = iota
	KindSolid
	KindAir
	KindNot
	KindAnd
	KindOr
	KindXor
)

// Mask is an immutable predicate tree. A nil *Mask matches every value.
type Mask struct {
	kind     Kind
	types    []world.Block
	children []*Mask
}

// Types matches values whose material is in blocks. A block with a state
// only matches that exact state.
func Types(blocks ...world.Block) *Mask {
	return &Mask{kind: KindTypes, types: blocks}
}

// Solid matches every non-air value.
func Solid() *Mask { return &Mask{kind: KindSolid} }

// Air matches air.
func Air() *Mask { return &Mask{kind: KindAir} }

// Not wraps m so that it matches exactly what m rejects. Double negation is
// folded.
func Not(m *Mask) *Mask {
	if m != nil && m.kind == KindNot {
		return m.children[0]
	}
	return &Mask{kind: KindNot, children: []*Mask{m}}
}

func And(children ...*Mask) *Mask { return compound(KindAnd, children) }
func Or(children ...*Mask) *Mask  { return compound(KindOr, children) }
func Xor(children ...*Mask) *Mask { return compound(KindXor, children) }

func compound(kind Kind, children []*Mask) *Mask {
	if len(children) == 1 {
		return children[0]
	}
	flat := make([]*Mask, 0, len(children))
	for _, child := range children {
		if child != nil && child.kind == kind && kind != KindXor {
			flat = append(flat, child.children...)
			continue
		}
		flat = append(flat, child)
	}
	return &Mask{kind: kind, children: flat}
}

func (m *Mask) Kind() Kind { return m.kind }

// Matches evaluates the tree against b.
func (m *Mask) Matches(b world.Block) bool {
	return eval(m, b.Normalize())
}

func eval(m *Mask, b world.Block) bool {
	if m == nil {
		return true
	}
	switch m.kind {
	case KindTypes:
		for _, t := range m.types {
			if t.Material == b.Material && (t.State == "" || t.State == b.State) {
				return true
			}
		}
		return false
	case KindSolid:
		return !b.IsAir()
	case KindAir:
		return b.IsAir()
	case KindNot:
		return !eval(m.children[0], b)
	case KindAnd:
		for _, child := range m.children {
			if !eval(child, b) {
				return false
			}
		}
		return true
	case KindOr:
		for _, child := range m.children {
			if eval(child, b) {
				return true
			}
		}
		return false
	case KindXor:
		// every child is evaluated; true when an odd number match
		odd := false
		for _, child := range m.children {
			if eval(child, b) {
				odd = !odd
			}
		}
		return odd
	default:
		return false
	}
}

// MatchesAt reads p from r and evaluates the mask. Unaddressable positions
// never match.
func (m *Mask) MatchesAt(r world.Reader, p world.Position) bool {
	b, ok := r.Block(p)
	if !ok {
		return false
	}
	return m.Matches(b)
}

func (m *Mask) String() string {
	if m == nil {
		return "*"
	}
	var sb strings.Builder
	m.write(&sb, false)
	return sb.String()
}

func (m *Mask) write(sb *strings.Builder, nested bool) {
	if m == nil {
		sb.WriteString("*")
		return
	}
	switch m.kind {
	case KindTypes:
		for i, t := range m.types {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(t.String())
		}
	case KindSolid:
		sb.WriteString("#solid")
	case KindAir:
		sb.WriteString("#air")
	case KindNot:
		sb.WriteByte('!')
		m.children[0].write(sb, true)
	default:
		op := map[Kind]string{KindAnd: "&", KindOr: "|", KindXor: "^"}[m.kind]
		if nested {
			sb.WriteByte('(')
		}
		for i, child := range m.children {
			if i > 0 {
				sb.WriteString(op)
			}
			child.write(sb, true)
		}
		if nested {
			sb.WriteByte(')')
		}
	}
}
