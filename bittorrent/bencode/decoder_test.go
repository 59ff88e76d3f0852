package bencode

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var unmarshalTests = []struct {
	input    string
	expected interface{}
}{
	{"i42e", int64(42)},
	{"i-42e", int64(-42)},

	{"7:example", "example"},
	{"0:", ""},

	{"l3:one3:twoe", List{"one", "two"}},
	{"le", List{}},

	{"d3:one2:aa3:two2:bbe", Dict{"one": "aa", "two": "bb"}},
	{"de", Dict{}},
}

func TestUnmarshal(t *testing.T) {
	for _, tt := range unmarshalTests {
		got, err := Unmarshal([]byte(tt.input))
		assert.Nil(t, err, "unmarshal should not fail")
		assert.Equal(t, tt.expected, got, "unmarshalled values should match the expected results")
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	for _, input := range []string{"", "i42", "ie", "i03e", "i-0e", "10:short", "di1ei2ee", "l3:one", "x", "-1:"} {
		_, err := Unmarshal([]byte(input))
		assert.NotNil(t, err, "input %q should fail", input)
	}
}

type bufferLoop struct {
	val string
}

func (r *bufferLoop) Read(b []byte) (int, error) {
	n := copy(b, r.val)
	return n, nil
}

func BenchmarkUnmarshalScalar(b *testing.B) {
	d1 := NewDecoder(&bufferLoop{"7:example"})
	d2 := NewDecoder(&bufferLoop{"i42e"})

	for i := 0; i < b.N; i++ {
		d1.Decode()
		d2.Decode()
	}
}

func TestUnmarshalLarge(t *testing.T) {
	data := Dict{
		"k1": List{"a", "b", "c"},
		"k2": int64(42),
		"k3": "val",
		"k4": int64(-42),
	}

	buf, _ := Marshal(data)
	dec := NewDecoder(&bufferLoop{string(buf)})

	got, err := dec.Decode()
	assert.Nil(t, err, "decode should not fail")
	assert.Equal(t, data, got, "encoding and decoding should equal the original value")
}

func TestUnmarshalOrderedDict(t *testing.T) {
	buf := MustMarshal(NewOrderedDict().Set("z", 1).Set("a", NewOrderedDict().Set("y", "b").Set("x", "c")))

	got, err := Unmarshal(buf)
	assert.Nil(t, err)
	assert.Equal(t, Dict{"z": int64(1), "a": Dict{"y": "b", "x": "c"}}, got)

	got, err = UnmarshalOrdered(buf)
	assert.Nil(t, err)
	d := got.(*OrderedDict)
	assert.Equal(t, []string{"z", "a"}, d.Keys())
	inner, _ := d.Get("a")
	assert.Equal(t, []string{"y", "x"}, inner.(*OrderedDict).Keys())
}

func TestUnmarshalLimits(t *testing.T) {
	deep := strings.Repeat("l", maxDepth+1) + strings.Repeat("e", maxDepth+1)
	_, err := Unmarshal([]byte(deep))
	assert.Equal(t, ErrTooDeep, err)

	shallow := strings.Repeat("l", maxDepth) + strings.Repeat("e", maxDepth)
	_, err = Unmarshal([]byte(shallow))
	assert.Nil(t, err)

	_, err = Unmarshal([]byte(strconv.Itoa(maxStringLength+1) + ":"))
	assert.Equal(t, ErrStringTooLong, err)
}

func TestDecoderStream(t *testing.T) {
	dec := NewDecoder(strings.NewReader("i1e3:twoli3eed1:ai4ee"))
	for _, expected := range []interface{}{int64(1), "two", List{int64(3)}, Dict{"a": int64(4)}} {
		got, err := dec.Decode()
		assert.Nil(t, err)
		assert.Equal(t, expected, got)
	}
}
