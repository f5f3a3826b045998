package meshdoc

import (
	"maps"
	"slices"
	"unicode/utf8"
)

// textCursor replays text ops against a run list. i is the current run,
// offset the text length before run i, and pos the absolute position.
type textCursor struct {
	runs   []Run
	i      int
	offset int
	pos    int
}

// applyTextDelta applies ops in order and returns the updated runs. Adjacent
// runs with equal attributes are left unmerged.
func applyTextDelta(runs []Run, ops []TextOp) []Run {
	c := &textCursor{runs: runs}
	for _, op := range ops {
		switch {
		case op.Insert != nil:
			c.insert(*op.Insert, op.Attributes)
		case op.Delete != nil:
			c.delete(*op.Delete)
		case op.Retain != nil && len(op.Attributes) > 0:
			c.format(*op.Retain, op.Attributes)
		case op.Retain != nil:
			c.retain(*op.Retain)
		}
	}
	return c.runs
}

// advance moves i past every run that ends at or before pos.
func (c *textCursor) advance() {
	for c.i < len(c.runs) {
		rl := runeLen(c.runs[c.i].Insert)
		if c.offset+rl > c.pos {
			return
		}
		c.offset += rl
		c.i++
	}
}

// insert appends a new run at the end of the text, otherwise it splices
// into run i without changing the run count.
func (c *textCursor) insert(s string, attrs map[string]any) {
	if c.i >= len(c.runs) {
		c.runs = append(c.runs, Run{Insert: s, Attributes: attrsOrEmpty(attrs)})
	} else {
		r := &c.runs[c.i]
		local := clamp(c.pos-c.offset, 0, runeLen(r.Insert))
		at := byteOffset(r.Insert, local)
		r.Insert = r.Insert[:at] + s + r.Insert[at:]
	}
	c.pos += runeLen(s)
}

func (c *textCursor) delete(n int) {
	for n > 0 && c.i < len(c.runs) {
		r := &c.runs[c.i]
		rl := runeLen(r.Insert)
		if c.pos > c.offset {
			local := c.pos - c.offset
			if local >= rl {
				c.offset += rl
				c.i++
				continue
			}
			tail := rl - local
			if n >= tail {
				r.Insert = r.Insert[:byteOffset(r.Insert, local)]
				n -= tail
				c.offset += local
				c.i++
			} else {
				r.Insert = r.Insert[:byteOffset(r.Insert, local)] + r.Insert[byteOffset(r.Insert, local+n):]
				n = 0
			}
			continue
		}
		if n >= rl {
			c.runs = slices.Delete(c.runs, c.i, c.i+1)
			n -= rl
		} else {
			r.Insert = r.Insert[byteOffset(r.Insert, n):]
			n = 0
		}
	}
}

// format merges attrs into the next n characters, splitting runs that
// straddle either boundary.
func (c *textCursor) format(n int, attrs map[string]any) {
	remaining := n
	p := c.pos
	j, off := c.i, c.offset
	for remaining > 0 && j < len(c.runs) {
		rl := runeLen(c.runs[j].Insert)
		if off+rl <= p {
			off += rl
			j++
			continue
		}
		if start := p - off; start > 0 {
			c.splitRun(j, start)
			off += start
			j++
			continue
		}
		if rl > remaining {
			c.splitRun(j, remaining)
			c.runs[j].Attributes = mergeAttrs(c.runs[j].Attributes, attrs)
			remaining = 0
			break
		}
		c.runs[j].Attributes = mergeAttrs(c.runs[j].Attributes, attrs)
		remaining -= rl
		p += rl
		off += rl
		j++
	}
	c.retain(n)
}

func (c *textCursor) retain(n int) {
	c.pos += n
	c.advance()
}

// splitRun cuts run j at local offset at; the tail keeps a copy of the
// run's attributes.
func (c *textCursor) splitRun(j, at int) {
	r := c.runs[j]
	cut := byteOffset(r.Insert, at)
	tail := Run{Insert: r.Insert[cut:], Attributes: attrsOrEmpty(maps.Clone(r.Attributes))}
	c.runs[j].Insert = r.Insert[:cut]
	c.runs = slices.Insert(c.runs, j+1, tail)
}

// mergeAttrs is a shallow assign: keys in add override keys in base.
func mergeAttrs(base, add map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(add))
	maps.Copy(out, base)
	maps.Copy(out, add)
	return out
}

func attrsOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// byteOffset converts a code point offset into a byte offset in s.
func byteOffset(s string, n int) int {
	if n <= 0 {
		return 0
	}
	i := 0
	for idx := range s {
		if i == n {
			return idx
		}
		i++
	}
	return len(s)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
