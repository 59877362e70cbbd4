package rangetree

import "github.com/egwalker/merge/rle"

// RawIndex counts entries by raw length: the simplest index
// instantiation, used where positions and lengths coincide.
type RawIndex[E rle.Entry[E]] struct{}

func (RawIndex[E]) Zero() int                 { return 0 }
func (RawIndex[E]) Add(a, b int) int          { return a + b }
func (RawIndex[E]) Width(e E) int             { return e.Len() }
func (RawIndex[E]) WidthAt(e E, off int) int  { return off }
