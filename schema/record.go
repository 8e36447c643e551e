package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/wippyai/polyglot-runtime/errors"
	"github.com/wippyai/polyglot-runtime/polyglot"
)

// Record is a schema-driven model: it encodes and decodes the fields of a
// ModelDef without generated code. Values are held in their wire Go types
// (int32, uint64, ...); enums are uint32 ordinals, arrays are []any, maps are
// ordered maps and nested records are *Record (nil when absent).
//
// Set is the only way to change a field and it validates and normalizes the
// value against the field definition and its accessor.
type Record struct {
	sig    *Signature
	model  *ModelDef
	values []any
}

// NewRecord creates a default-valued record of the named model.
func (s *Signature) NewRecord(model string) (*Record, error) {
	m, ok := s.Model(model)
	if !ok {
		return nil, errors.NotFound(errors.PhaseSchema, "model", model)
	}
	r := &Record{sig: s, model: m}
	r.SetDefaults()
	return r, nil
}

// NewContext creates a default-valued record of the context model.
func (s *Signature) NewContext() (*Record, error) {
	return s.NewRecord(s.Context)
}

// Model returns the record's model definition.
func (r *Record) Model() *ModelDef { return r.model }

// Fields returns the field names in encoding order.
func (r *Record) Fields() []string {
	names := make([]string, len(r.model.Fields))
	for i, f := range r.model.Fields {
		names[i] = f.Name
	}
	return names
}

// SetDefaults resets every field to its default: zero scalars, empty
// containers, default records for required record fields and absent values
// for optional fields.
func (r *Record) SetDefaults() {
	r.values = make([]any, len(r.model.Fields))
	for i, f := range r.model.Fields {
		r.values[i] = r.defaultValue(f)
	}
}

func (r *Record) defaultValue(f *FieldDef) any {
	if f.Optional {
		return nil
	}
	switch f.Kind {
	case polyglot.ArrayKind:
		return []any{}
	case polyglot.MapKind:
		return orderedmap.New[any, any]()
	case polyglot.RecordKind:
		child, _ := r.sig.NewRecord(f.Model)
		return child
	}
	return zeroScalar(f.Kind)
}

func zeroScalar(k polyglot.Kind) any {
	switch k {
	case polyglot.BoolKind:
		return false
	case polyglot.Uint32Kind, polyglot.EnumKind:
		return uint32(0)
	case polyglot.Uint64Kind:
		return uint64(0)
	case polyglot.Int32Kind:
		return int32(0)
	case polyglot.Int64Kind:
		return int64(0)
	case polyglot.Float32Kind:
		return float32(0)
	case polyglot.Float64Kind:
		return float64(0)
	case polyglot.StringKind:
		return ""
	case polyglot.BytesKind:
		return []byte{}
	}
	return nil
}

// Get returns a field value.
func (r *Record) Get(name string) (any, error) {
	i, _, ok := r.model.Field(name)
	if !ok {
		return nil, errors.FieldUnknown(errors.PhaseSchema, []string{r.model.Name}, name)
	}
	return r.values[i], nil
}

// Set validates, normalizes and stores a field value. Numbers of any Go type
// (and numeric strings) are converted with range checks, enum names become
// ordinals, plain Go maps and slices are converted to the field's container
// shape, and map[string]any builds nested records.
func (r *Record) Set(name string, v any) error {
	i, f, ok := r.model.Field(name)
	if !ok {
		return errors.FieldUnknown(errors.PhaseSchema, []string{r.model.Name}, name)
	}
	nv, err := r.normalizeField([]string{r.model.Name, name}, f, v)
	if err != nil {
		return err
	}
	r.values[i] = nv
	return nil
}

// Clear resets a field to its default value.
func (r *Record) Clear(name string) error {
	i, f, ok := r.model.Field(name)
	if !ok {
		return errors.FieldUnknown(errors.PhaseSchema, []string{r.model.Name}, name)
	}
	r.values[i] = r.defaultValue(f)
	return nil
}

func (r *Record) normalizeField(path []string, f *FieldDef, v any) (any, error) {
	if v == nil {
		if f.Optional || f.Kind == polyglot.RecordKind {
			return nil, nil
		}
		return nil, errors.InvalidInput(errors.PhaseSchema, fmt.Sprintf("%s is not optional", strings.Join(path, ".")))
	}
	switch f.Kind {
	case polyglot.ArrayKind:
		return r.normalizeArray(path, f, v)
	case polyglot.MapKind:
		return r.normalizeMap(path, f, v)
	}
	nv, err := r.normalize(path, f.Kind, f, v)
	if err != nil {
		return nil, err
	}
	if f.Accessor != nil {
		return applyAccessor(path, f.Accessor, nv)
	}
	return nv, nil
}

func (r *Record) normalizeArray(path []string, f *FieldDef, v any) (any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, typeError(path, polyglot.ArrayKind, v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		elemPath := append(append([]string{}, path...), strconv.Itoa(i))
		nv, err := r.normalize(elemPath, f.Elem, f, rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}

func (r *Record) normalizeMap(path []string, f *FieldDef, v any) (any, error) {
	out := orderedmap.New[any, any]()
	put := func(k, val any) error {
		entryPath := append(append([]string{}, path...), fmt.Sprint(k))
		nk, err := r.normalize(entryPath, f.Key, f, k)
		if err != nil {
			return err
		}
		nv, err := r.normalize(entryPath, f.Elem, f, val)
		if err != nil {
			return err
		}
		out.Set(nk, nv)
		return nil
	}

	if om, ok := v.(*orderedmap.OrderedMap[any, any]); ok {
		for p := om.Oldest(); p != nil; p = p.Next() {
			if err := put(p.Key, p.Value); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return nil, typeError(path, polyglot.MapKind, v)
	}
	// Go maps have no order; sort keys so the encoding is deterministic.
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	for _, k := range keys {
		if err := put(k.Interface(), rv.MapIndex(k).Interface()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// normalize converts a single scalar or record value to kind k.
func (r *Record) normalize(path []string, k polyglot.Kind, f *FieldDef, v any) (any, error) {
	switch k {
	case polyglot.RecordKind:
		return r.normalizeRecord(path, f.Model, v)
	case polyglot.EnumKind:
		e, _ := r.sig.Enum(f.Enum)
		return normalizeEnum(path, e, v)
	}
	return normalizeScalar(path, k, v)
}

func (r *Record) normalizeRecord(path []string, model string, v any) (any, error) {
	switch rec := v.(type) {
	case nil:
		return nil, nil
	case *Record:
		if rec == nil {
			return nil, nil
		}
		if rec.model.Name != model {
			return nil, errors.TypeMismatch(errors.PhaseSchema, path, model, rec.model.Name)
		}
		return rec, nil
	case map[string]any:
		child, err := r.sig.NewRecord(model)
		if err != nil {
			return nil, err
		}
		if err := child.SetAll(rec); err != nil {
			return nil, err
		}
		return child, nil
	}
	return nil, errors.TypeMismatch(errors.PhaseSchema, path, model, fmt.Sprintf("%T", v))
}

// SetAll sets every entry of values, in key order.
func (r *Record) SetAll(values map[string]any) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.Set(name, values[name]); err != nil {
			return err
		}
	}
	return nil
}

func normalizeEnum(path []string, e *EnumDef, v any) (any, error) {
	if s, ok := v.(string); ok {
		if ord, ok := e.Ordinal(s); ok {
			return ord, nil
		}
		if _, err := strconv.ParseUint(s, 10, 32); err != nil {
			return nil, errors.InvalidEnum(errors.PhaseSchema, path, s, e.Name)
		}
	}
	n, err := normalizeScalar(path, polyglot.Uint32Kind, v)
	if err != nil {
		return nil, err
	}
	if int(n.(uint32)) >= len(e.Values) {
		return nil, errors.InvalidEnum(errors.PhaseSchema, path, n, e.Name)
	}
	return n, nil
}

func normalizeScalar(path []string, k polyglot.Kind, v any) (any, error) {
	switch k {
	case polyglot.BoolKind:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, typeError(path, k, v)
			}
			return parsed, nil
		}
	case polyglot.StringKind:
		if s, ok := v.(string); ok {
			if !utf8.ValidString(s) {
				return nil, errors.InvalidUTF8(errors.PhaseSchema, path, []byte(s))
			}
			return s, nil
		}
	case polyglot.BytesKind:
		switch b := v.(type) {
		case []byte:
			return append([]byte{}, b...), nil
		case string:
			return []byte(b), nil
		}
	case polyglot.Int32Kind, polyglot.Int64Kind, polyglot.Uint32Kind, polyglot.Uint64Kind:
		return normalizeInteger(path, k, v)
	case polyglot.Float32Kind, polyglot.Float64Kind:
		f, ok := toFloat(v)
		if !ok {
			return nil, typeError(path, k, v)
		}
		if k == polyglot.Float32Kind {
			if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
				return nil, errors.Overflow(errors.PhaseSchema, path, v, k.String())
			}
			return float32(f), nil
		}
		return f, nil
	}
	return nil, typeError(path, k, v)
}

func normalizeInteger(path []string, k polyglot.Kind, v any) (any, error) {
	var (
		i        int64
		u        uint64
		negative bool
		ok       = true
	)
	switch n := v.(type) {
	case int:
		i, negative = int64(n), n < 0
	case int8:
		i, negative = int64(n), n < 0
	case int16:
		i, negative = int64(n), n < 0
	case int32:
		i, negative = int64(n), n < 0
	case int64:
		i, negative = n, n < 0
	case uint:
		u = uint64(n)
	case uint8:
		u = uint64(n)
	case uint16:
		u = uint64(n)
	case uint32:
		u = uint64(n)
	case uint64:
		u = n
	case float32, float64:
		f, _ := toFloat(n)
		if f != math.Trunc(f) || math.IsInf(f, 0) || f >= 1<<64 || f < -(1<<63) {
			return nil, errors.Overflow(errors.PhaseSchema, path, v, k.String())
		}
		if f < 0 {
			i, negative = int64(f), true
		} else {
			u = uint64(f)
		}
	case json.Number:
		return normalizeInteger(path, k, n.String())
	case string:
		if pi, err := strconv.ParseInt(n, 10, 64); err == nil {
			i, negative = pi, pi < 0
		} else if pu, err := strconv.ParseUint(n, 10, 64); err == nil {
			u = pu
		} else {
			ok = false
		}
	default:
		ok = false
	}
	if !ok {
		return nil, typeError(path, k, v)
	}
	if !negative && i > 0 {
		u = uint64(i)
	}

	overflow := errors.Overflow(errors.PhaseSchema, path, v, k.String())
	switch k {
	case polyglot.Int32Kind:
		if negative {
			if i < math.MinInt32 {
				return nil, overflow
			}
			return int32(i), nil
		}
		if u > math.MaxInt32 {
			return nil, overflow
		}
		return int32(u), nil
	case polyglot.Int64Kind:
		if negative {
			return i, nil
		}
		if u > math.MaxInt64 {
			return nil, overflow
		}
		return int64(u), nil
	case polyglot.Uint32Kind:
		if negative || u > math.MaxUint32 {
			return nil, overflow
		}
		return uint32(u), nil
	default:
		if negative {
			return nil, overflow
		}
		return u, nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func applyAccessor(path []string, a *Accessor, v any) (any, error) {
	if s, ok := v.(string); ok {
		switch a.Case {
		case "upper":
			s = strings.ToUpper(s)
		case "lower":
			s = strings.ToLower(s)
		}
		if a.Pattern != "" {
			re, err := regexp.Compile(a.Pattern)
			if err != nil {
				return nil, errors.InvalidDefinition(path, err.Error())
			}
			if !re.MatchString(s) {
				return nil, errors.New(errors.PhaseSchema, errors.KindInvalidInput).
					Path(path...).
					Value(s).
					Detail("value does not match %q", a.Pattern).
					Build()
			}
		}
		if err := checkBounds(path, a, float64(utf8.RuneCountInString(s)), "length"); err != nil {
			return nil, err
		}
		return s, nil
	}
	if b, ok := v.([]byte); ok {
		return b, checkBounds(path, a, float64(len(b)), "length")
	}
	f, _ := toFloat(v)
	return v, checkBounds(path, a, f, "value")
}

func checkBounds(path []string, a *Accessor, n float64, what string) error {
	if (a.Min != nil && n < *a.Min) || (a.Max != nil && n > *a.Max) {
		return errors.New(errors.PhaseSchema, errors.KindInvalidInput).
			Path(path...).
			Value(n).
			Detail("%s %v outside [%s, %s]", what, n, bound(a.Min), bound(a.Max)).
			Build()
	}
	return nil
}

func bound(b *float64) string {
	if b == nil {
		return "-"
	}
	return strconv.FormatFloat(*b, 'g', -1, 64)
}

func typeError(path []string, k polyglot.Kind, v any) error {
	return errors.TypeMismatch(errors.PhaseSchema, path, k.String(), fmt.Sprintf("%T", v))
}

// Encode writes the record's fields in definition order.
func (r *Record) Encode(e *polyglot.Encoder) {
	for i, f := range r.model.Fields {
		r.encodeField(e, f, r.values[i])
	}
}

func (r *Record) encodeField(e *polyglot.Encoder, f *FieldDef, v any) {
	if v == nil && f.Kind != polyglot.RecordKind {
		e.Nil()
		return
	}
	switch f.Kind {
	case polyglot.ArrayKind:
		items := v.([]any)
		e.Array(len(items), f.Elem)
		for _, item := range items {
			encodeElement(e, f.Elem, item)
		}
	case polyglot.MapKind:
		m := v.(*orderedmap.OrderedMap[any, any])
		e.Map(m.Len(), f.Key, f.Elem)
		for p := m.Oldest(); p != nil; p = p.Next() {
			encodeElement(e, f.Key, p.Key)
			encodeElement(e, f.Elem, p.Value)
		}
	default:
		encodeElement(e, f.Kind, v)
	}
}

func encodeElement(e *polyglot.Encoder, k polyglot.Kind, v any) {
	if k == polyglot.RecordKind {
		rec, _ := v.(*Record)
		polyglot.EncodeModel(e, rec)
		return
	}
	// values only enter a record through Set or Decode, so they always
	// match their kind
	if err := polyglot.EncodeValue(e, k, v); err != nil {
		panic(fmt.Sprintf("schema: %v", err))
	}
}

// Decode reads the record's fields in definition order.
func (r *Record) Decode(d *polyglot.Decoder) error {
	if len(r.values) != len(r.model.Fields) {
		r.values = make([]any, len(r.model.Fields))
	}
	for i, f := range r.model.Fields {
		v, err := r.decodeField(d, f)
		if err != nil {
			return withPath(err, r.model.Name, f.Name)
		}
		r.values[i] = v
	}
	return nil
}

func (r *Record) decodeField(d *polyglot.Decoder, f *FieldDef) (any, error) {
	if f.Optional && f.Kind != polyglot.RecordKind && d.IsNil() {
		return nil, nil
	}
	switch f.Kind {
	case polyglot.ArrayKind:
		n, err := d.Array(f.Elem)
		if err != nil {
			return nil, err
		}
		items := make([]any, 0, n)
		for i := 0; i < n; i++ {
			v, err := r.decodeElement(d, f, f.Elem)
			if err != nil {
				return nil, withPath(err, strconv.Itoa(i))
			}
			items = append(items, v)
		}
		return items, nil
	case polyglot.MapKind:
		n, err := d.Map(f.Key, f.Elem)
		if err != nil {
			return nil, err
		}
		m := orderedmap.New[any, any](orderedmap.WithCapacity[any, any](n))
		for i := 0; i < n; i++ {
			k, err := r.decodeElement(d, f, f.Key)
			if err != nil {
				return nil, withPath(err, strconv.Itoa(i))
			}
			if _, dup := m.Get(k); dup {
				return nil, errors.DuplicateKey([]string{strconv.Itoa(i)}, k)
			}
			v, err := r.decodeElement(d, f, f.Elem)
			if err != nil {
				return nil, withPath(err, fmt.Sprint(k))
			}
			m.Set(k, v)
		}
		return m, nil
	}
	return r.decodeElement(d, f, f.Kind)
}

func (r *Record) decodeElement(d *polyglot.Decoder, f *FieldDef, k polyglot.Kind) (any, error) {
	switch k {
	case polyglot.RecordKind:
		present, err := d.Record()
		if err != nil || !present {
			return nil, err
		}
		m, _ := r.sig.Model(f.Model)
		child := &Record{sig: r.sig, model: m}
		child.SetDefaults()
		if err := child.Decode(d); err != nil {
			return nil, err
		}
		return child, nil
	case polyglot.EnumKind:
		v, err := d.Enum()
		if err != nil {
			return nil, err
		}
		if e, _ := r.sig.Enum(f.Enum); int(v) >= len(e.Values) {
			return nil, errors.InvalidEnum(errors.PhaseDecode, nil, v, e.Name)
		}
		return v, nil
	}
	return polyglot.DecodeValue(d, k)
}

func withPath(err error, segments ...string) error {
	if e, ok := err.(*errors.Error); ok {
		cp := *e
		cp.Path = append(append([]string{}, segments...), e.Path...)
		return &cp
	}
	return err
}

// Map returns a JSON-friendly view of the record: fields in definition
// order, enum names instead of ordinals and nested records as nested maps.
func (r *Record) Map() *orderedmap.OrderedMap[string, any] {
	out := orderedmap.New[string, any](orderedmap.WithCapacity[string, any](len(r.model.Fields)))
	for i, f := range r.model.Fields {
		out.Set(f.Name, r.view(f, f.Kind, r.values[i]))
	}
	return out
}

func (r *Record) view(f *FieldDef, k polyglot.Kind, v any) any {
	if v == nil {
		return nil
	}
	switch k {
	case polyglot.RecordKind:
		if rec, ok := v.(*Record); ok && rec != nil {
			return rec.Map()
		}
		return nil
	case polyglot.EnumKind:
		e, _ := r.sig.Enum(f.Enum)
		if ord := v.(uint32); int(ord) < len(e.Values) {
			return e.Values[ord]
		}
		return v
	case polyglot.ArrayKind:
		items := v.([]any)
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = r.view(f, f.Elem, item)
		}
		return out
	case polyglot.MapKind:
		m := v.(*orderedmap.OrderedMap[any, any])
		out := orderedmap.New[string, any]()
		for p := m.Oldest(); p != nil; p = p.Next() {
			out.Set(fmt.Sprint(r.view(f, f.Key, p.Key)), r.view(f, f.Elem, p.Value))
		}
		return out
	}
	return v
}

// MarshalJSON renders Map as JSON.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}
