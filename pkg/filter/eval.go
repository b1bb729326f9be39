package filter

import (
	"context"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/compute/exec"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/scalar"

	"github.com/ajitpratap0/arrowbridge/pkg/errors"
)

// Predicate is a parsed filter expression.
type Predicate struct {
	src  string
	root node
}

// String returns the source text.
func (p *Predicate) String() string { return p.src }

// Columns returns the sorted, de-duplicated column names referenced.
func (p *Predicate) Columns() []string {
	seen := map[string]struct{}{}
	p.root.walk(func(n node) {
		if c, ok := n.(*column); ok {
			seen[c.name] = struct{}{}
		}
	})
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every referenced column exists in schema.
func (p *Predicate) Validate(schema *arrow.Schema) error {
	for _, name := range p.Columns() {
		if !schema.HasField(name) {
			return errors.Newf(errors.ErrorTypeInvalidArgument, "filter references unknown column %q", name).
				WithDetail("filter", p.src)
		}
	}
	return nil
}

// Mask evaluates the predicate to a boolean array with one slot per row.
// The caller owns the result.
func (p *Predicate) Mask(ctx context.Context, mem memory.Allocator, rec arrow.Record) (arrow.Array, error) {
	ctx = exec.WithAllocator(ctx, mem)
	ev := &evaluator{ctx: ctx, mem: mem, rec: rec}

	d, err := p.root.eval(ev)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidArgument, "evaluate filter").WithDetail("filter", p.src)
	}
	defer d.Release()

	notBool := errors.Newf(errors.ErrorTypeInvalidArgument, "filter %q is not a boolean expression", p.src)
	switch v := d.(type) {
	case *compute.ArrayDatum:
		if v.Type().ID() != arrow.BOOL {
			return nil, notBool
		}
		return v.MakeArray(), nil
	case *compute.ScalarDatum:
		if v.Type().ID() != arrow.BOOL {
			return nil, notBool
		}
		// constant predicate, e.g. TRUE or 1 = 1
		return scalar.MakeArrayFromScalar(v.Value, int(rec.NumRows()), mem)
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal, "unexpected datum kind %v", d.Kind())
	}
}

// Apply returns the rows of rec for which the predicate is true. The
// result is a new record owned by the caller; rec is not released.
func (p *Predicate) Apply(ctx context.Context, mem memory.Allocator, rec arrow.Record) (arrow.Record, error) {
	mask, err := p.Mask(ctx, mem, rec)
	if err != nil {
		return nil, err
	}
	defer mask.Release()

	out, err := compute.FilterRecordBatch(exec.WithAllocator(ctx, mem), rec, mask, compute.DefaultFilterOptions())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeEngineRead, "apply filter")
	}
	return out, nil
}

type evaluator struct {
	ctx context.Context
	mem memory.Allocator
	rec arrow.Record
}

// node is one expression tree element. eval returns an owned datum.
type node interface {
	eval(ev *evaluator) (compute.Datum, error)
	walk(fn func(node))
}

type column struct {
	name string
}

func (c *column) eval(ev *evaluator) (compute.Datum, error) {
	idx := ev.rec.Schema().FieldIndices(c.name)
	if len(idx) == 0 {
		return nil, fmt.Errorf("unknown column %q", c.name)
	}
	return compute.NewDatum(ev.rec.Column(idx[0])), nil
}

func (c *column) walk(fn func(node)) { fn(c) }

type literal struct {
	value scalar.Scalar
}

func (l *literal) eval(*evaluator) (compute.Datum, error) {
	return compute.NewDatum(l.value), nil
}

func (l *literal) walk(fn func(node)) { fn(l) }

type compare struct {
	fn   string
	l, r node
}

func (c *compare) eval(ev *evaluator) (compute.Datum, error) {
	l, err := c.l.eval(ev)
	if err != nil {
		return nil, err
	}
	defer l.Release()
	r, err := c.r.eval(ev)
	if err != nil {
		return nil, err
	}
	defer r.Release()

	l, r = coerceLiteral(l, r), coerceLiteral(r, l)
	return compute.CallFunction(ev.ctx, c.fn, nil, l, r)
}

func (c *compare) walk(fn func(node)) {
	fn(c)
	c.l.walk(fn)
	c.r.walk(fn)
}

// coerceLiteral casts a scalar operand to the type of an array operand when
// the value survives the round trip, so id = 5 compares int32 to int32.
// Lossy casts are left to the kernel's own type promotion.
func coerceLiteral(side, other compute.Datum) compute.Datum {
	sd, ok := side.(*compute.ScalarDatum)
	if !ok {
		return side
	}
	ad, ok := other.(*compute.ArrayDatum)
	if !ok || arrow.TypeEqual(sd.Type(), ad.Type()) {
		return side
	}
	cast, err := sd.Value.CastTo(ad.Type())
	if err != nil {
		return side
	}
	back, err := cast.CastTo(sd.Type())
	if err != nil || !scalar.Equals(back, sd.Value) {
		return side
	}
	return &compute.ScalarDatum{Value: cast}
}

type logical struct {
	fn   string
	l, r node
}

func (g *logical) eval(ev *evaluator) (compute.Datum, error) {
	l, err := g.l.eval(ev)
	if err != nil {
		return nil, err
	}
	defer l.Release()
	r, err := g.r.eval(ev)
	if err != nil {
		return nil, err
	}
	defer r.Release()
	return compute.CallFunction(ev.ctx, g.fn, nil, l, r)
}

func (g *logical) walk(fn func(node)) {
	fn(g)
	g.l.walk(fn)
	g.r.walk(fn)
}

type not struct {
	x node
}

func (n *not) eval(ev *evaluator) (compute.Datum, error) {
	x, err := n.x.eval(ev)
	if err != nil {
		return nil, err
	}
	defer x.Release()

	if sd, ok := x.(*compute.ScalarDatum); ok {
		b, ok := sd.Value.(*scalar.Boolean)
		if !ok {
			return nil, fmt.Errorf("NOT needs a boolean operand, got %s", sd.Type())
		}
		if !b.IsValid() {
			return compute.NewDatum(scalar.MakeNullScalar(arrow.FixedWidthTypes.Boolean)), nil
		}
		return compute.NewDatum(scalar.NewBooleanScalar(!b.Value)), nil
	}
	// TRUE AND NOT x is NOT x with Kleene nulls; there is no unary kernel
	return compute.CallFunction(ev.ctx, "and_not_kleene", nil,
		compute.NewDatum(scalar.NewBooleanScalar(true)), x)
}

func (n *not) walk(fn func(node)) {
	fn(n)
	n.x.walk(fn)
}

type isNull struct {
	x      node
	negate bool
}

func (n *isNull) eval(ev *evaluator) (compute.Datum, error) {
	x, err := n.x.eval(ev)
	if err != nil {
		return nil, err
	}
	defer x.Release()
	fn := "is_null"
	if n.negate {
		fn = "is_not_null"
	}
	return compute.CallFunction(ev.ctx, fn, nil, x)
}

func (n *isNull) walk(fn func(node)) {
	fn(n)
	n.x.walk(fn)
}
