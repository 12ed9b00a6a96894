package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
)

// Payload is a parsed field-keyed document
type Payload map[string]any

var errNotObject = errors.New("payload is not a JSON object")

// numbers compare by value, so 10, 10.0 and 1e1 are the same price
var payloadOptions = cmp.Options{
	cmp.Comparer(func(x, y json.Number) bool {
		rx, okx := new(big.Rat).SetString(x.String())
		ry, oky := new(big.Rat).SetString(y.String())
		if !okx || !oky {
			return x == y
		}
		return rx.Cmp(ry) == 0
	}),
}

// ParsePayload parses a serialized document. Blank input and "null" are the empty document.
func ParsePayload(raw string) (Payload, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return Payload{}, nil
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("parse payload: trailing data after document")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return Payload(obj), nil
}

func valuesEqual(a, b any) bool {
	return cmp.Equal(a, b, payloadOptions)
}

// HasMeaningfulDifference reports whether two documents disagree on content.
// Formatting, key order and number notation never count. If either side does
// not parse, only byte-identical documents are considered equal.
func HasMeaningfulDifference(local, remote string) bool {
	a, errA := ParsePayload(local)
	b, errB := ParsePayload(remote)
	if errA != nil || errB != nil {
		return local != remote
	}

	if len(a) != len(b) {
		return true
	}
	for key, av := range a {
		bv, ok := b[key]
		if !ok || !valuesEqual(av, bv) {
			return true
		}
	}
	return false
}

// ConflictingFields returns the sorted top-level fields that differ between the
// documents, including fields present on one side only. A side that does not
// parse contributes no fields.
func ConflictingFields(local, remote string) []string {
	a, err := ParsePayload(local)
	if err != nil {
		a = Payload{}
	}
	b, err := ParsePayload(remote)
	if err != nil {
		b = Payload{}
	}
	return diffFields(a, b)
}

func diffFields(a, b Payload) []string {
	fields := make([]string, 0)
	for key, av := range a {
		bv, ok := b[key]
		if !ok || !valuesEqual(av, bv) {
			fields = append(fields, key)
		}
	}
	for key := range b {
		if _, ok := a[key]; !ok {
			fields = append(fields, key)
		}
	}
	sort.Strings(fields)
	return fields
}
