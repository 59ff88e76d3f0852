// Package bencode implements bencoding of data as defined in BEP 3 using
// type assertion over reflection for performance.
package bencode

// Dict represents a bencode dictionary. Its keys are encoded sorted.
type Dict map[string]interface{}

// NewDict allocates the memory for a Dict.
func NewDict() Dict {
	return make(Dict)
}

// List represents a bencode list.
type List []interface{}

// NewList allocates the memory for a List.
func NewList() List {
	return make(List, 0)
}

// OrderedDict represents a bencode dictionary whose keys are encoded in the
// order they were added.
//
// Tracker replies are fixed-schema, so every response is built as an
// OrderedDict.
type OrderedDict struct {
	keys   []string
	values map[string]interface{}
}

// NewOrderedDict allocates the memory for an OrderedDict.
func NewOrderedDict() *OrderedDict {
	return &OrderedDict{values: make(map[string]interface{})}
}

// Set adds key to the dictionary, keeping the position of an existing key.
func (d *OrderedDict) Set(key string, value interface{}) *OrderedDict {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
	return d
}

// Get returns the value stored for key.
func (d *OrderedDict) Get(key string) (interface{}, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the keys of the dictionary in encoding order.
func (d *OrderedDict) Keys() []string {
	return d.keys
}

// Len returns the number of keys in the dictionary.
func (d *OrderedDict) Len() int {
	return len(d.keys)
}
