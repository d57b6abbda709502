package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxDepth bounds container nesting when the caller passes no limit.
const DefaultMaxDepth = 512

var (
	// ErrSyntax is returned for input that is not a single well-formed JSON value.
	ErrSyntax = errors.New("malformed JSON")

	// ErrTooDeep is returned when containers nest deeper than the limit.
	ErrTooDeep = errors.New("JSON nesting too deep")
)

type frame struct {
	obj     *Object
	list    []Value
	key     string
	haveKey bool
}

func (f *frame) value() Value {
	if f.obj != nil {
		return FromObject(f.obj)
	}
	return List(f.list...)
}

// Parse decodes data. Empty or whitespace-only input decodes to null.
func Parse(data []byte, maxDepth int) (Value, error) {
	return Decode(bytes.NewReader(data), maxDepth)
}

// MustParse is Parse for literals known to be valid. It panics on error.
func MustParse(s string) Value {
	v, err := Decode(strings.NewReader(s), 0)
	if err != nil {
		panic(fmt.Sprintf("jsonvalue: MustParse(%q): %v", s, err))
	}
	return v
}

// Decode reads exactly one JSON value from r.
//
// Containers are tracked on an explicit stack so hostile input cannot grow
// the goroutine stack; nesting beyond maxDepth fails with ErrTooDeep.
func Decode(r io.Reader, maxDepth int) (Value, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()

	var (
		stack   []*frame
		root    Value
		rootSet bool
	)

	emit := func(v Value) {
		if len(stack) == 0 {
			root, rootSet = v, true
			return
		}
		top := stack[len(stack)-1]
		if top.obj != nil {
			top.obj.Set(top.key, v)
			top.key, top.haveKey = "", false
			return
		}
		top.list = append(top.list, v)
	}

	for !rootSet {
		tok, err := dec.Token()
		if err == io.EOF {
			if len(stack) == 0 {
				return Null(), nil
			}
			return Value{}, fmt.Errorf("%w: unexpected end of input", ErrSyntax)
		}
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrSyntax, err)
		}

		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{', '[':
				if len(stack) >= maxDepth {
					return Value{}, fmt.Errorf("%w: limit is %d", ErrTooDeep, maxDepth)
				}
				f := &frame{}
				if t == '{' {
					f.obj = NewObject()
				}
				stack = append(stack, f)
			case '}', ']':
				f := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				emit(f.value())
			}
		case string:
			if n := len(stack); n > 0 && stack[n-1].obj != nil && !stack[n-1].haveKey {
				stack[n-1].key, stack[n-1].haveKey = t, true
				continue
			}
			emit(String(t))
		case json.Number:
			emit(Number(string(t)))
		case bool:
			emit(Bool(t))
		case nil:
			emit(Null())
		}
	}

	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("%w: trailing data after top-level value", ErrSyntax)
	}
	return root, nil
}
