package bencode

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var marshalTests = []struct {
	input    interface{}
	expected string
}{
	{int(42), "i42e"},
	{int(-42), "i-42e"},
	{uint(43), "i43e"},
	{int64(44), "i44e"},
	{uint64(45), "i45e"},
	{int16(44), "i44e"},
	{uint16(45), "i45e"},

	{"example", "7:example"},
	{[]byte("example"), "7:example"},
	{[]byte{}, "0:"},
	{30 * time.Minute, "i1800e"},

	{[]string{"one", "two"}, "l3:one3:twoe"},
	{[]interface{}{"one", "two"}, "l3:one3:twoe"},
	{List{"one", int64(2)}, "l3:onei2ee"},
	{[]string{}, "le"},

	{map[string]interface{}{"two": "bb", "one": "aa"}, "d3:one2:aa3:two2:bbe"},
	{Dict{"two": "bb", "one": "aa"}, "d3:one2:aa3:two2:bbe"},
	{map[string]interface{}{}, "de"},
	{NewOrderedDict().Set("two", "bb").Set("one", "aa"), "d3:two2:bb3:one2:aae"},
	{[]*OrderedDict{NewOrderedDict().Set("ip", "10.0.0.1").Set("port", 6881)}, "ld2:ip8:10.0.0.14:porti6881eee"},
}

func TestMarshal(t *testing.T) {
	for _, test := range marshalTests {
		got, err := Marshal(test.input)
		assert.Nil(t, err, "marshal should not fail")
		assert.Equal(t, test.expected, string(got))
	}
}

func TestOrderedDictKeepsFirstPosition(t *testing.T) {
	d := NewOrderedDict().Set("interval", 1800).Set("complete", 1).Set("interval", 900)
	require.Equal(t, []string{"interval", "complete"}, d.Keys())
	require.Equal(t, 2, d.Len())

	v, ok := d.Get("interval")
	require.True(t, ok)
	require.Equal(t, 900, v)
	require.Equal(t, "d8:intervali900e8:completei1ee", string(MustMarshal(d)))
}

func TestFailureShape(t *testing.T) {
	d := NewOrderedDict().
		Set("failure reason", "Missing port").
		Set("failure code", 103)
	require.Equal(t, "d14:failure reason12:Missing port12:failure codei103ee", string(MustMarshal(d)))
}

func TestMustMarshalPanicsOnUnsupported(t *testing.T) {
	require.Panics(t, func() { MustMarshal(struct{}{}) })
	require.Panics(t, func() { MustMarshal([]interface{}{1.5}) })
}

func BenchmarkMarshalScalar(b *testing.B) {
	buf := &bytes.Buffer{}
	encoder := NewEncoder(buf)

	for i := 0; i < b.N; i++ {
		encoder.Encode("test")
		encoder.Encode(123)
	}
}

func BenchmarkMarshalLarge(b *testing.B) {
	data := map[string]interface{}{
		"k1": []string{"a", "b", "c"},
		"k2": 42,
		"k3": "val",
		"k4": uint(42),
	}

	buf := &bytes.Buffer{}
	encoder := NewEncoder(buf)

	for i := 0; i < b.N; i++ {
		encoder.Encode(data)
	}
}
