package fastls

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
	KindShortcut
	KindFunction
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindShortcut:
		return "shortcut"
	case KindFunction:
		return "function"
	default:
		return fmt.Sprintf("invalid kind %d", int(k))
	}
}

// Value is a node of a stored tree. The zero Value is undefined.
//
// Objects and arrays are reference types: copying a Value shares the container.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string // string, shortcut target or function signature
	obj  *Object
	arr  *Array
}

func Undefined() Value { return Value{} }
func Null() Value { return Value{kind: KindNull} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func Int(n int64) Value { return Value{kind: KindNumber, n: float64(n)} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func ObjectValue(o *Object) Value { return Value{kind: KindObject, obj: o} }
func ArrayValue(a *Array) Value { return Value{kind: KindArray, arr: a} }

// ShortcutTo returns an alias to another full path. Use DB.SetShortcut to store one.
func ShortcutTo(target string) Value { return Value{kind: KindShortcut, s: target} }

// FunctionPlaceholder stands in for a callable value; sig is its parameter-list signature.
func FunctionPlaceholder(sig string) Value { return Value{kind: KindFunction, s: sig} }

func EmptyObject() Value { return ObjectValue(NewObject()) }
func EmptyArray() Value { return ArrayValue(&Array{}) }

func ArrayOf(items ...Value) Value {
	return ArrayValue(&Array{Items: items})
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsContainer() bool { return v.kind == KindObject || v.kind == KindArray }
func (v Value) IsShortcut() bool { return v.kind == KindShortcut }
func (v Value) AsBool() bool { return v.b }
func (v Value) AsNumber() float64 { return v.n }
func (v Value) Object() *Object { return v.obj }
func (v Value) Array() *Array { return v.arr }
func (v Value) ShortcutTarget() string {
	if v.kind != KindShortcut {
		return ""
	}
	return v.s
}
func (v Value) Signature() string {
	if v.kind != KindFunction {
		return ""
	}
	return v.s
}

// AsString returns the string payload of a String value and "" for anything else.
func (v Value) AsString() string {
	if v.kind != KindString {
		return ""
	}
	return v.s
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindObject:
		o := NewObject()
		for _, k := range v.obj.keys {
			o.Set(k, v.obj.vals[k].Clone())
		}
		return ObjectValue(o)
	case KindArray:
		items := make([]Value, len(v.arr.Items))
		for i, item := range v.arr.Items {
			items[i] = item.Clone()
		}
		return ArrayOf(items...)
	default:
		return v
	}
}

// Equal reports deep equality. Object key order is not significant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindUndefined, KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n || (math.IsNaN(v.n) && math.IsNaN(o.n))
	case KindString, KindShortcut, KindFunction:
		return v.s == o.s
	case KindObject:
		if v.obj.Len() != o.obj.Len() {
			return false
		}
		for _, k := range v.obj.keys {
			ov, found := o.obj.vals[k]
			if !found || !v.obj.vals[k].Equal(ov) {
				return false
			}
		}
		return true
	case KindArray:
		return slices.EqualFunc(v.arr.Items, o.arr.Items, Value.Equal)
	default:
		return false
	}
}

// Interface converts the tree into plain Go values: map[string]any, []any,
// float64, string, bool and nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindObject:
		m := make(map[string]any, v.obj.Len())
		for _, k := range v.obj.keys {
			m[k] = v.obj.vals[k].Interface()
		}
		return m
	case KindArray:
		a := make([]any, len(v.arr.Items))
		for i, item := range v.arr.Items {
			a[i] = item.Interface()
		}
		return a
	case KindShortcut:
		return "[Shortcut: " + v.s + "]"
	case KindFunction:
		return "[Function: " + v.s + "]"
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindString:
		return v.s
	default:
		return string(must(v.MarshalJSON()))
	}
}

// MarshalJSON renders the tree for display. Shortcuts and placeholders render
// as {"$shortcut": target} and {"$function": signature}; FromJSON does not
// interpret those shapes, so they never become real shortcuts.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	err := v.writeJSON(&buf)
	return buf.Bytes(), err
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindUndefined, KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			buf.WriteString("null")
		} else {
			buf.WriteString(strconv.FormatFloat(v.n, 'g', -1, 64))
		}
	case KindString:
		writeJSONString(buf, v.s)
	case KindShortcut:
		buf.WriteString(`{"$shortcut":`)
		writeJSONString(buf, v.s)
		buf.WriteByte('}')
	case KindFunction:
		buf.WriteString(`{"$function":`)
		writeJSONString(buf, v.s)
		buf.WriteByte('}')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.obj.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, k)
			buf.WriteByte(':')
			if err := v.obj.vals[k].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("%w: cannot render %v", ErrSerialization, v.kind)
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) {
	buf.Write(must(json.Marshal(s)))
}

// FromJSON parses JSON text into a Value, preserving object key order.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := readJSONValue(dec)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("%w: trailing data after JSON value", ErrSerialization)
	}
	return v, nil
}

func readJSONValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '{':
			o := NewObject()
			for dec.More() {
				ktok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				item, err := readJSONValue(dec)
				if err != nil {
					return Value{}, err
				}
				o.Set(ktok.(string), item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return ObjectValue(o), nil
		case '[':
			a := &Array{}
			for dec.More() {
				item, err := readJSONValue(dec)
				if err != nil {
					return Value{}, err
				}
				a.Items = append(a.Items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return ArrayValue(a), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected JSON token %v", tok)
}

// FromGo converts a Go value into a tree. Maps must have string keys; structs
// contribute their exported fields, named by the json tag when present.
// Functions become placeholders when allowFuncs is set and fail with
// ErrSerialization otherwise.
func FromGo(x any, allowFuncs bool) (Value, error) {
	switch x := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case *Value:
		if x == nil {
			return Null(), nil
		}
		return *x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case float64:
		return Number(x), nil
	case int:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case json.RawMessage:
		return FromJSON(x)
	}
	return fromReflect(reflect.ValueOf(x), allowFuncs, "")
}

func fromReflect(rv reflect.Value, allowFuncs bool, at string) (Value, error) {
	switch rv.Kind() {
	case reflect.Invalid:
		return Null(), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return fromReflect(rv.Elem(), allowFuncs, at)
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Slice:
		if rv.IsNil() {
			return Null(), nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return String(string(rv.Bytes())), nil
		}
		fallthrough
	case reflect.Array:
		a := &Array{Items: make([]Value, rv.Len())}
		for i := range a.Items {
			item, err := fromReflect(rv.Index(i), allowFuncs, at+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return Value{}, err
			}
			a.Items[i] = item
		}
		return ArrayValue(a), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, fmt.Errorf("%w: %s: map key type %v is not string", ErrSerialization, describeAt(at), rv.Type().Key())
		}
		if rv.IsNil() {
			return Null(), nil
		}
		keys := rv.MapKeys()
		slices.SortFunc(keys, func(a, b reflect.Value) int {
			return strings.Compare(a.String(), b.String())
		})
		o := NewObject()
		for _, k := range keys {
			item, err := fromReflect(rv.MapIndex(k), allowFuncs, joinAt(at, k.String()))
			if err != nil {
				return Value{}, err
			}
			o.Set(k.String(), item)
		}
		return ObjectValue(o), nil
	case reflect.Struct:
		o := NewObject()
		typ := rv.Type()
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag, ok := f.Tag.Lookup("json"); ok {
				tagName, _, _ := strings.Cut(tag, ",")
				if tagName == "-" {
					continue
				}
				if tagName != "" {
					name = tagName
				}
			}
			item, err := fromReflect(rv.Field(i), allowFuncs, joinAt(at, name))
			if err != nil {
				return Value{}, err
			}
			o.Set(name, item)
		}
		return ObjectValue(o), nil
	case reflect.Func:
		if !allowFuncs {
			return Value{}, fmt.Errorf("%w: %s: function values are not allowed", ErrSerialization, describeAt(at))
		}
		return FunctionPlaceholder(funcSignature(rv.Type())), nil
	default:
		return Value{}, fmt.Errorf("%w: %s: unsupported type %v", ErrSerialization, describeAt(at), rv.Type())
	}
}

func funcSignature(typ reflect.Type) string {
	var buf strings.Builder
	buf.WriteString("func(")
	for i := 0; i < typ.NumIn(); i++ {
		if i > 0 {
			buf.WriteString(", ")
		}
		if typ.IsVariadic() && i == typ.NumIn()-1 {
			buf.WriteString("...")
			buf.WriteString(typ.In(i).Elem().String())
		} else {
			buf.WriteString(typ.In(i).String())
		}
	}
	buf.WriteByte(')')
	switch typ.NumOut() {
	case 0:
	case 1:
		buf.WriteByte(' ')
		buf.WriteString(typ.Out(0).String())
	default:
		buf.WriteString(" (")
		for i := 0; i < typ.NumOut(); i++ {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(typ.Out(i).String())
		}
		buf.WriteByte(')')
	}
	return buf.String()
}

func joinAt(at, name string) string {
	if at == "" {
		return name
	}
	return at + "." + name
}

func describeAt(at string) string {
	if at == "" {
		return "value"
	}
	return at
}

// Object is an insertion-ordered string-keyed map.
type Object struct {
	keys []string
	vals map[string]Value
}

func NewObject() *Object {
	return &Object{vals: make(map[string]Value)}
}

func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return slices.Clone(o.keys)
}

func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	v, found := o.vals[key]
	return v, found
}

// Set stores v under key, appending key if it is new.
func (o *Object) Set(key string, v Value) *Object {
	if _, found := o.vals[key]; !found {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = v
	return o
}

func (o *Object) Delete(key string) bool {
	if _, found := o.vals[key]; !found {
		return false
	}
	delete(o.vals, key)
	o.keys = slices.DeleteFunc(o.keys, func(k string) bool { return k == key })
	return true
}

// resolveKey returns the existing key that matches key, honoring case folding.
func (o *Object) resolveKey(key string, fold bool) (string, bool) {
	if o == nil {
		return key, false
	}
	if _, found := o.vals[key]; found {
		return key, true
	}
	if fold {
		for _, k := range o.keys {
			if equalFold(k, key) {
				return k, true
			}
		}
	}
	return key, false
}

// Array is a list of values. Deleted slots hold Undefined holes.
type Array struct {
	Items []Value
}

func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Items)
}

func (a *Array) At(i int) (Value, bool) {
	if a == nil || i < 0 || i >= len(a.Items) {
		return Value{}, false
	}
	return a.Items[i], true
}
