package assembler

import (
	"fmt"

	"go.starlark.net/syntax"
)

// selfName is the predeclared name under which a unit sees its own
// namespace.
const selfName = "__namespace__"

// scopeRewriter turns a unit's top-level bindings into writes on its
// namespace.  After the rewrite no name is bound at the top level, so
// the resolver treats every reference to one as predeclared and the
// interpreter looks it up in the namespace table when it runs.
//
//	x = 1          →  __namespace__.x = 1
//	for i in xs:   →  for __namespace__.i in xs:
//	def f(): ...   →  def __def0__():
//	                      def f(): ...
//	                      return f
//	                  __namespace__.f = __def0__()
//
// Bodies of functions are left alone: their assignments stay local.
// load() bindings stay file-local.
type scopeRewriter struct {
	names map[string]bool // names the unit binds
	defs  int
}

func newScopeRewriter() *scopeRewriter {
	return &scopeRewriter{names: make(map[string]bool)}
}

// rewrite transforms f in place.
func (r *scopeRewriter) rewrite(f *syntax.File) {
	f.Stmts = r.stmts(f.Stmts)
}

func (r *scopeRewriter) stmts(list []syntax.Stmt) []syntax.Stmt {
	if list == nil {
		return nil
	}
	out := make([]syntax.Stmt, 0, len(list))
	for _, s := range list {
		switch s := s.(type) {
		case *syntax.AssignStmt:
			s.LHS = r.target(s.LHS)
			out = append(out, s)
		case *syntax.DefStmt:
			out = append(out, r.def(s)...)
		case *syntax.ForStmt:
			s.Vars = r.target(s.Vars)
			s.Body = r.stmts(s.Body)
			out = append(out, s)
		case *syntax.WhileStmt:
			s.Body = r.stmts(s.Body)
			out = append(out, s)
		case *syntax.IfStmt:
			s.True = r.stmts(s.True)
			s.False = r.stmts(s.False)
			out = append(out, s)
		default:
			out = append(out, s)
		}
	}
	return out
}

// target rewrites every identifier in an assignment target.
func (r *scopeRewriter) target(e syntax.Expr) syntax.Expr {
	switch e := e.(type) {
	case *syntax.Ident:
		r.names[e.Name] = true
		return field(e.NamePos, e.Name)
	case *syntax.TupleExpr:
		for i := range e.List {
			e.List[i] = r.target(e.List[i])
		}
	case *syntax.ListExpr:
		for i := range e.List {
			e.List[i] = r.target(e.List[i])
		}
	case *syntax.ParenExpr:
		e.X = r.target(e.X)
	}
	return e
}

// def nests the function in a wrapper so its name is local to the
// wrapper, then stores the result on the namespace.
func (r *scopeRewriter) def(s *syntax.DefStmt) []syntax.Stmt {
	name := s.Name.Name
	r.names[name] = true

	pos := s.Def
	wrapper := fmt.Sprintf("__def%d__", r.defs)
	r.defs++

	return []syntax.Stmt{
		&syntax.DefStmt{
			Def:    pos,
			Name:   ident(pos, wrapper),
			Lparen: pos,
			Rparen: pos,
			Body: []syntax.Stmt{
				s,
				&syntax.ReturnStmt{Return: pos, Result: ident(pos, name)},
			},
		},
		&syntax.AssignStmt{
			OpPos: pos,
			Op:    syntax.EQ,
			LHS:   field(pos, name),
			RHS:   &syntax.CallExpr{Fn: ident(pos, wrapper), Lparen: pos, Rparen: pos},
		},
	}
}

func ident(pos syntax.Position, name string) *syntax.Ident {
	return &syntax.Ident{NamePos: pos, Name: name}
}

// field returns __namespace__.name.
func field(pos syntax.Position, name string) *syntax.DotExpr {
	return &syntax.DotExpr{
		X:       ident(pos, selfName),
		Dot:     pos,
		NamePos: pos,
		Name:    ident(pos, name),
	}
}
