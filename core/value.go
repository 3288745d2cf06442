package core

// shape classifies a member value for the flatten/inflate/diff walkers.
type shape int

const (
	shapeAbsent shape = iota
	shapeScalar
	shapeArray
	shapeEach // {$each: [...]} bulk-add modifier
)

const eachKey = "$each"

func shapeOf(v any) shape {
	if isNil(v) {
		return shapeAbsent
	}
	if _, ok := asList(v); ok {
		return shapeArray
	}
	if doc, ok := asDoc(v); ok {
		if _, ok := asList(doc[eachKey]); ok {
			return shapeEach
		}
	}
	return shapeScalar
}

// mapShape applies fn to every element of v while preserving its shape:
// scalars are mapped directly, arrays element-wise into a new []any, and
// $each modifiers inside their array. Absent values are returned untouched.
func mapShape(v any, fn func(any) (any, error)) (any, error) {
	switch shapeOf(v) {
	case shapeAbsent:
		return v, nil
	case shapeArray:
		list, _ := asList(v)
		out := make([]any, len(list))
		for i, item := range list {
			mapped, err := fn(item)
			if err != nil {
				return nil, err
			}
			out[i] = mapped
		}
		return out, nil
	case shapeEach:
		doc, _ := asDoc(v)
		each, err := mapShape(doc[eachKey], fn)
		if err != nil {
			return nil, err
		}
		doc[eachKey] = each
		return doc, nil
	default:
		return fn(v)
	}
}
