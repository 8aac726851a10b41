package profile

import "profiler/internal/frame"

// Flatten rewrites a source schema into the flat, scalar-only schema the
// passes run on. Scanning never happens here; each produced column carries
// the accessor expression a backend needs to materialize it later.
//
// Rules:
//   - Scalar columns pass through unchanged (with their accessor pinned).
//   - A nested column expands to one "{parent}_{field}" column per scalar
//     leaf field. Non-scalar fields and zero-field records contribute
//     nothing; a record column with no usable leaves disappears silently.
//   - A sequence column is replaced by a numeric "{name}_len" column over
//     its element counts.
func Flatten(s frame.Schema) frame.Schema {
	out := make(frame.Schema, 0, len(s))
	for _, c := range s {
		switch c.Kind {
		case frame.KindNested:
			for _, f := range c.Fields {
				if !f.Kind.Scalar() {
					continue
				}
				out = append(out, frame.Column{
					Name:   c.Name + "_" + f.Name,
					Kind:   f.Kind,
					Source: frame.Field(c.Name, f.Name),
				})
			}

		case frame.KindSequence:
			out = append(out, frame.Column{
				Name:   c.Name + "_len",
				Kind:   frame.KindNumeric,
				Source: frame.Len(c.Name),
			})

		default:
			c.Source = c.Access()
			out = append(out, c)
		}
	}
	return out
}
