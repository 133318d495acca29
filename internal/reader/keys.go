package reader

import (
	"fmt"

	"github.com/strataio/strata/internal/errors"
	"github.com/strataio/strata/internal/row"
)

// rangeBounds is one resolved scan range. Nil cursors leave that side of
// the range open.
type rangeBounds struct {
	start          *row.Cursor
	end            *row.Cursor
	startExclusive bool
	endInclusive   bool
}

// initKeysParam resolves the wire scan ranges into cursor bounds. An
// inverted range (start past end) ends the scan there: it and every
// following range are dropped, so the read returns what came before
// instead of failing.
func (r *Reader) initKeysParam(p *Params) error {
	if len(p.StartKeys) == 0 {
		r.ranges = []rangeBounds{{}}
		return nil
	}

	rng := p.Range
	if rng == "" {
		rng = "gt"
	}
	endRng := p.EndRange
	if endRng == "" {
		endRng = "lt"
	}

	var startExclusive bool
	switch rng {
	case "gt":
		startExclusive = true
	case "ge", "eq":
		startExclusive = false
	default:
		return errors.NewReadError(errors.CodeGetIterator,
			fmt.Sprintf("unknown range token %q", rng), nil)
	}

	endInclusive := false
	if rng == "eq" {
		endInclusive = true
	} else {
		switch endRng {
		case "lt":
		case "le":
			endInclusive = true
		default:
			return errors.NewReadError(errors.CodeGetIterator,
				fmt.Sprintf("unknown end range token %q", endRng), nil)
		}
		if len(p.EndKeys) != 0 && len(p.EndKeys) != len(p.StartKeys) {
			return errors.NewValidationError(errors.CodeInputParameter,
				fmt.Sprintf("got %d start keys but %d end keys",
					len(p.StartKeys), len(p.EndKeys)))
		}
	}

	for i, sk := range p.StartKeys {
		start, err := row.NewScanKeyCursor(r.schema, sk)
		if err != nil {
			return err
		}
		var end *row.Cursor
		if rng == "eq" {
			end = start
		} else if len(p.EndKeys) != 0 {
			end, err = row.NewScanKeyCursor(r.schema, p.EndKeys[i])
			if err != nil {
				return err
			}
		}
		if rng != "eq" && end != nil {
			cmp := start.Cmp(end)
			if startExclusive && cmp >= 0 {
				break
			}
			if !startExclusive && cmp > 0 {
				break
			}
		}
		r.ranges = append(r.ranges, rangeBounds{
			start:          start,
			end:            end,
			startExclusive: startExclusive,
			endInclusive:   endInclusive,
		})
	}
	return nil
}

// maxScanKeyLen returns the widest key prefix used by any scan bound.
func (r *Reader) maxScanKeyLen() int {
	max := 0
	for _, b := range r.ranges {
		if b.start != nil && b.start.NumKeyColumns() > max {
			max = b.start.NumKeyColumns()
		}
		if b.end != nil && b.end.NumKeyColumns() > max {
			max = b.end.NumKeyColumns()
		}
	}
	return max
}
