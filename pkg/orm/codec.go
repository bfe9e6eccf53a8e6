package orm

import (
	"bytes"
	"encoding/gob"

	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/schema"
)

func init() {
	// Every concrete type a property value can hold, registered once so
	// gob can round-trip the Properties map's interface{} values.
	gob.Register("")
	gob.Register([]string{})
	gob.Register(int64(0))
	gob.Register([]int64{})
	gob.Register([]byte{})
}

// Encode serializes o into the opaque ORM binary payload the Values
// family stores under dkey.SubORM — the canonical on-disk form
// pkg/core reads back as the "current" baseline for the next diff.
// gob is used rather than JSON because Properties holds interface{}
// values keyed by a small closed set of concrete Go types (registered
// above), which gob round-trips without a custom MarshalJSON per type.
func Encode(o *Object) ([]byte, error) {
	if o == nil {
		o = New()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(o); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode. A truncated or malformed payload
// surfaces dkey.ErrCorrupt rather than panicking.
func Decode(raw []byte) (*Object, error) {
	if len(raw) == 0 {
		return New(), nil
	}
	var o Object
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&o); err != nil {
		return nil, dkey.ErrCorrupt
	}
	if o.Properties == nil {
		o.Properties = make(map[schema.PropertyId]interface{})
	}
	return &o, nil
}
