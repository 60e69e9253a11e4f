// Package jsonmerge implements the pool append protocol: a schema
// compatibility gate followed by a columnar JSON-array append.
package jsonmerge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/enclave/pkg/errs"
)

// Schema is a JSON-Schema-like descriptor: a decoded JSON object.
type Schema map[string]any

// ValidateShape compiles s as a Draft 2020-12 JSON Schema to reject
// malformed descriptors before the structural-equality walk ever runs.
// A schema that fails to compile is reported as MergeShape, the same kind
// schemas_compatible/append use for every other shape problem.
func ValidateShape(s Schema) error {
	raw, err := marshalForCompile(s)
	if err != nil {
		return errs.Wrap(errs.Format, "MergeShape", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "mem://schema.json"
	if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
		return errs.Wrap(errs.Format, "MergeShape", err)
	}
	if _, err := c.Compile(url); err != nil {
		return errs.Wrap(errs.Format, "MergeShape", err)
	}
	return nil
}

// SchemasCompatible reports whether s1 and s2 describe the same shape:
// identical top-level property key sets, recursively-equal descriptors per
// property (type, items.type, nested objects/arrays), and identical
// "required" arrays compared element-wise.
func SchemasCompatible(s1, s2 Schema) bool {
	return structurallyEqual(map[string]any(s1), map[string]any(s2))
}

// Append merges doc2's columns onto doc1's. For every key in doc2, doc1
// must already hold an array under that key, doc2's value for that key
// must be an array, and the result is doc1[key] followed by doc2[key].
// Keys present only in doc1 are preserved unchanged. Any shape violation
// is reported as MergeShape and neither input is mutated.
func Append(doc1, doc2 map[string]any) (map[string]any, error) {
	result := make(map[string]any, len(doc1))
	for k, v := range doc1 {
		result[k] = v
	}

	for key, rawRight := range doc2 {
		right, ok := rawRight.([]any)
		if !ok {
			return nil, errs.New(errs.Format, "MergeShape",
				fmt.Sprintf("column %q in right-hand document is not an array", key))
		}

		rawLeft, present := doc1[key]
		if !present {
			return nil, errs.New(errs.Format, "MergeShape",
				fmt.Sprintf("column %q present on the right but missing on the left", key))
		}
		left, ok := rawLeft.([]any)
		if !ok {
			return nil, errs.New(errs.Format, "MergeShape",
				fmt.Sprintf("column %q in left-hand document is not an array", key))
		}

		merged := make([]any, 0, len(left)+len(right))
		merged = append(merged, left...)
		merged = append(merged, right...)
		result[key] = merged
	}

	return result, nil
}

func structurallyEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, aval := range av {
			bval, ok := bv[k]
			if !ok {
				return false
			}
			if k == "required" {
				if !requiredEqual(aval, bval) {
					return false
				}
				continue
			}
			if !structurallyEqual(aval, bval) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !structurallyEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
}

// requiredEqual compares two "required" values element-wise, per spec
// (order-insensitive-as-a-set is allowed by the spec, but this design
// compares element-wise for simplicity, matching the documented decision).
func requiredEqual(a, b any) bool {
	av, aok := a.([]any)
	bv, bok := b.([]any)
	if aok != bok {
		return false
	}
	if !aok {
		return structurallyEqual(a, b)
	}
	if len(av) != len(bv) {
		return false
	}
	for i := range av {
		if fmt.Sprint(av[i]) != fmt.Sprint(bv[i]) {
			return false
		}
	}
	return true
}

func marshalForCompile(s Schema) (string, error) {
	b, err := json.Marshal(map[string]any(s))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
