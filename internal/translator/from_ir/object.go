package from_ir

import (
	"bytes"

	"github.com/nghyane/copilot-gateway/internal/json"
	"github.com/nghyane/copilot-gateway/internal/translator/ir"
)

type member struct {
	key   string
	value any
}

// object is a JSON object that marshals its members in insertion order.
type object []member

// newObject seeds an object with a passthrough bag, keeping its order.
func newObject(extra ir.Extra, capacity int) object {
	o := make(object, 0, len(extra)+capacity)
	for _, f := range extra {
		o = append(o, member{key: f.Key, value: json.RawMessage(f.Value)})
	}
	return o
}

// set replaces key in place or appends it.
func (o *object) set(key string, value any) {
	for i := range *o {
		if (*o)[i].key == key {
			(*o)[i].value = value
			return
		}
	}
	*o = append(*o, member{key: key, value: value})
}

func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(m.key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(m.value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
