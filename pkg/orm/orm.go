// Package orm is the tiny object mapper every typed collection's
// documents are read and written through: a property-ordered map plus a
// tag set plus an ACL list, and the diff that turns two such objects
// into the mutation list pkg/docstore commits.
package orm

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/cuemby/driftbox/pkg/docstore"
	"github.com/cuemby/driftbox/pkg/schema"
)

// Tag is one set-membership marker on a document, keyed by the field it
// belongs to (e.g. a mailbox-id tag on a Mail document).
type Tag struct {
	Field schema.PropertyId
	Value []byte
}

// ACLEntry grants rights to one principal.
type ACLEntry struct {
	Principal uint32
	Rights    uint32
}

// Object is the canonical in-memory form of a document's ORM payload:
// an ordered property map (Order records insertion order so
// serialization is deterministic), a tag set, and an ACL list.
type Object struct {
	Properties map[schema.PropertyId]interface{}
	Order      []schema.PropertyId
	Tags       []Tag
	ACL        []ACLEntry
}

// New returns an empty Object.
func New() *Object {
	return &Object{Properties: make(map[schema.PropertyId]interface{})}
}

// Set assigns a property value, appending it to Order the first time
// the property is set.
func (o *Object) Set(prop schema.PropertyId, value interface{}) {
	if _, exists := o.Properties[prop]; !exists {
		o.Order = append(o.Order, prop)
	}
	o.Properties[prop] = value
}

// ValidationError is a client-visible diff failure: a required property
// is missing, a value exceeds its bound, or a property is not in the
// collection's schema table. pkg/core wraps this into its InvalidProperties
// error kind.
type ValidationError struct {
	Property schema.PropertyId
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("property %d: %s", e.Property, e.Reason)
}

// MergeValidate computes the property-, tag-, and ACL-level diff between
// current and changes against table, enforcing required-property and
// max-length rules. It returns the ordered list of mutations docstore
// must apply and whether anything actually changed.
func MergeValidate(table schema.Table, current, changes *Object) ([]docstore.FieldMutation, bool, error) {
	if current == nil {
		current = New()
	}
	if changes == nil {
		changes = New()
	}

	var mutations []docstore.FieldMutation
	hasChanges := false

	for _, prop := range changes.Order {
		def, ok := table.Defs[prop]
		if !ok {
			return nil, false, &ValidationError{Property: prop, Reason: "unknown property"}
		}
		newVal := changes.Properties[prop]
		oldVal, hadOld := current.Properties[prop]

		if reflect.DeepEqual(newVal, oldVal) {
			continue
		}

		ms, err := diffProperty(def, oldVal, hadOld, newVal)
		if err != nil {
			return nil, false, err
		}
		if len(ms) > 0 {
			mutations = append(mutations, ms...)
			hasChanges = true
		}
	}

	// Required-property check against the merged result: present in
	// current unless explicitly cleared (nil) by changes.
	for _, prop := range table.Order {
		def := table.Defs[prop]
		if !def.Required {
			continue
		}
		newVal, changed := changes.Properties[prop]
		oldVal, hadOld := current.Properties[prop]
		var final interface{}
		var present bool
		if changed {
			final, present = newVal, newVal != nil
		} else {
			final, present = oldVal, hadOld && oldVal != nil
		}
		if !present || isZeroValue(final) {
			return nil, false, &ValidationError{Property: prop, Reason: "required property missing"}
		}
	}

	tagMutations, tagsChanged := diffTags(current.Tags, changes.Tags)
	if tagsChanged {
		hasChanges = true
	}
	mutations = append(mutations, tagMutations...)

	aclChanged := diffACL(current.ACL, changes.ACL)
	if aclChanged {
		hasChanges = true
	}

	return mutations, hasChanges, nil
}

func isZeroValue(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case []int64:
		return len(t) == 0
	default:
		return v == nil
	}
}

// diffProperty emits the clear-old/set-new mutations for one changed
// property, per the dynamic dispatch over schema.IndexKind.
func diffProperty(def schema.PropertyDef, oldVal interface{}, hadOld bool, newVal interface{}) ([]docstore.FieldMutation, error) {
	switch def.Kind {
	case schema.KindText:
		return diffText(def, asString(oldVal), asString(newVal))
	case schema.KindTextList:
		return diffTextList(def, asStringList(oldVal), asStringList(newVal))
	case schema.KindInteger, schema.KindLongInteger:
		return diffInteger(def, asInt64(oldVal), hadOld, newVal)
	case schema.KindIntegerList:
		return diffIntegerList(def, asInt64List(oldVal), asInt64List(newVal))
	case schema.KindNone:
		return diffStoredOnly(def, newVal)
	default:
		return nil, &ValidationError{Property: def.Id, Reason: "unsupported index kind"}
	}
}

func diffStoredOnly(def schema.PropertyDef, newVal interface{}) ([]docstore.FieldMutation, error) {
	if !def.Stored {
		return nil, nil
	}
	if newVal == nil {
		return []docstore.FieldMutation{{Property: def.Id, Kind: docstore.ClearStored}}, nil
	}
	b, ok := newVal.([]byte)
	if !ok {
		if s, ok := newVal.(string); ok {
			b = []byte(s)
		} else {
			return nil, &ValidationError{Property: def.Id, Reason: "expected opaque bytes or string"}
		}
	}
	return []docstore.FieldMutation{{Property: def.Id, Kind: docstore.SetStored, Bytes: b}}, nil
}

func diffText(def schema.PropertyDef, oldStr, newStr string) ([]docstore.FieldMutation, error) {
	if def.MaxLength > 0 && len(newStr) > def.MaxLength {
		return nil, &ValidationError{Property: def.Id, Reason: "value exceeds max length"}
	}
	var out []docstore.FieldMutation
	if oldStr != "" {
		if def.Indexed {
			out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.ClearIndex, Bytes: []byte(oldStr)})
		}
		out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.ClearText, Text: oldStr})
	}
	if newStr != "" {
		if def.Stored {
			out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.SetStored, Bytes: []byte(newStr)})
		}
		if def.Indexed {
			out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.SetIndex, Bytes: []byte(newStr)})
		}
		out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.SetText, Text: newStr})
	} else if oldStr != "" && def.Stored {
		out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.ClearStored})
	}
	return out, nil
}

// diffTextList computes the set symmetric difference between the old
// and new list so unchanged entries are never touched.
func diffTextList(def schema.PropertyDef, oldList, newList []string) ([]docstore.FieldMutation, error) {
	removed, added := stringSetDiff(oldList, newList)
	var out []docstore.FieldMutation
	for _, s := range removed {
		if def.Indexed {
			out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.ClearIndex, Bytes: []byte(s)})
		}
		out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.ClearText, Text: s})
	}
	for _, s := range added {
		if def.MaxLength > 0 && len(s) > def.MaxLength {
			return nil, &ValidationError{Property: def.Id, Reason: "value exceeds max length"}
		}
		if def.Indexed {
			out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.SetIndex, Bytes: []byte(s)})
		}
		out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.SetText, Text: s})
	}
	return out, nil
}

func diffInteger(def schema.PropertyDef, oldVal int64, hadOld bool, newVal interface{}) ([]docstore.FieldMutation, error) {
	var out []docstore.FieldMutation
	if hadOld && def.Indexed {
		out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.ClearIndex, Bytes: beInt64(oldVal)})
	}
	if newVal == nil {
		if def.Stored {
			out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.ClearStored})
		}
		return out, nil
	}
	n := asInt64(newVal)
	if def.Stored {
		out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.SetStored, Bytes: beInt64(n)})
	}
	if def.Indexed {
		out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.SetIndex, Bytes: beInt64(n)})
	}
	return out, nil
}

func diffIntegerList(def schema.PropertyDef, oldList, newList []int64) ([]docstore.FieldMutation, error) {
	removed, added := int64SetDiff(oldList, newList)
	var out []docstore.FieldMutation
	for _, n := range removed {
		if def.Indexed {
			out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.ClearIndex, Bytes: beInt64(n)})
		}
	}
	for _, n := range added {
		if def.Indexed {
			out = append(out, docstore.FieldMutation{Property: def.Id, Kind: docstore.SetIndex, Bytes: beInt64(n)})
		}
	}
	return out, nil
}

// diffTags computes the tag diff: clear tags only in current, set tags
// only in changes.
func diffTags(current, changes []Tag) ([]docstore.FieldMutation, bool) {
	curSet := make(map[string]Tag)
	for _, t := range current {
		curSet[tagKey(t)] = t
	}
	newSet := make(map[string]Tag)
	for _, t := range changes {
		newSet[tagKey(t)] = t
	}

	var out []docstore.FieldMutation
	changed := false
	for k, t := range curSet {
		if _, ok := newSet[k]; !ok {
			out = append(out, docstore.FieldMutation{Property: t.Field, Kind: docstore.ClearTag, Bytes: t.Value})
			changed = true
		}
	}
	for k, t := range newSet {
		if _, ok := curSet[k]; !ok {
			out = append(out, docstore.FieldMutation{Property: t.Field, Kind: docstore.SetTag, Bytes: t.Value})
			changed = true
		}
	}
	return out, changed
}

// diffACL computes the ACL diff by principal id. It reports only
// whether the ACL changed — ACL storage is handled directly by the
// caller, which holds the principal-keyed list alongside the object.
func diffACL(current, changes []ACLEntry) bool {
	return !reflect.DeepEqual(sortedACL(current), sortedACL(changes))
}

func sortedACL(in []ACLEntry) []ACLEntry {
	out := append([]ACLEntry(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].Principal < out[j].Principal })
	return out
}

func tagKey(t Tag) string { return fmt.Sprintf("%d:%x", t.Field, t.Value) }
