package bencode

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

// Limits applied to every decoded value. Tracker messages are small and flat.
const (
	maxDepth        = 32
	maxStringLength = 1 << 20
)

// Errors returned while decoding.
var (
	ErrMalformed     = errors.New("bencode: malformed input")
	ErrTooDeep       = errors.New("bencode: nesting too deep")
	ErrStringTooLong = errors.New("bencode: string too long")
	ErrNonStringKey  = errors.New("bencode: non-string dictionary key")
)

// A Decoder reads bencoded values from an input stream.
//
// Integers are returned as int64, byte strings as string and lists as List.
// Dictionaries are returned as Dict, or as *OrderedDict keeping the order of
// the keys on the wire when the Decoder is Ordered.
type Decoder struct {
	Ordered bool

	r     *bufio.Reader
	depth int
}

// NewDecoder returns a new Decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads the next bencoded value in the stream.
func (dec *Decoder) Decode() (interface{}, error) {
	dec.depth = 0
	return dec.value()
}

// Unmarshal returns the bencoded value in buf, decoding dictionaries as Dict.
func Unmarshal(buf []byte) (interface{}, error) {
	return NewDecoder(bytes.NewReader(buf)).Decode()
}

// UnmarshalOrdered is like Unmarshal but decodes dictionaries as
// *OrderedDict.
func UnmarshalOrdered(buf []byte) (interface{}, error) {
	dec := NewDecoder(bytes.NewReader(buf))
	dec.Ordered = true
	return dec.Decode()
}

func (dec *Decoder) value() (interface{}, error) {
	tok, err := dec.r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch {
	case tok == 'i':
		return dec.integer('e')
	case tok == 'l':
		return dec.nested(dec.list)
	case tok == 'd':
		return dec.nested(dec.dict)
	case tok >= '0' && tok <= '9':
		if err := dec.r.UnreadByte(); err != nil {
			return nil, err
		}
		return dec.str()
	}
	return nil, ErrMalformed
}

func (dec *Decoder) nested(f func() (interface{}, error)) (interface{}, error) {
	if dec.depth++; dec.depth > maxDepth {
		return nil, ErrTooDeep
	}
	v, err := f()
	dec.depth--
	return v, err
}

// end consumes the 'e' closing a list or a dictionary if it comes next.
func (dec *Decoder) end() (bool, error) {
	tok, err := dec.r.ReadByte()
	if err != nil {
		return false, err
	}
	if tok == 'e' {
		return true, nil
	}
	return false, dec.r.UnreadByte()
}

func (dec *Decoder) list() (interface{}, error) {
	list := NewList()
	for {
		done, err := dec.end()
		if err != nil {
			return nil, err
		} else if done {
			return list, nil
		}

		v, err := dec.value()
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
}

func (dec *Decoder) dict() (interface{}, error) {
	var (
		plain   Dict
		ordered *OrderedDict
	)
	if dec.Ordered {
		ordered = NewOrderedDict()
	} else {
		plain = NewDict()
	}

	for {
		done, err := dec.end()
		if err != nil {
			return nil, err
		} else if done {
			break
		}

		k, err := dec.value()
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			return nil, ErrNonStringKey
		}

		v, err := dec.value()
		if err != nil {
			return nil, err
		}
		if ordered != nil {
			ordered.Set(key, v)
		} else {
			plain[key] = v
		}
	}

	if ordered != nil {
		return ordered, nil
	}
	return plain, nil
}

func (dec *Decoder) str() (interface{}, error) {
	n, err := dec.integer(':')
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrMalformed
	} else if n > maxStringLength {
		return nil, ErrStringTooLong
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(dec.r, buf); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return string(buf), nil
}

// integer reads a base 10 integer up to term. Leading zeros and negative
// zero are rejected.
func (dec *Decoder) integer(term byte) (int64, error) {
	buf, err := dec.r.ReadSlice(term)
	if err != nil {
		return 0, err
	}
	digits := buf[:len(buf)-1]

	unsigned := bytes.TrimPrefix(digits, []byte{'-'})
	switch {
	case len(unsigned) == 0:
		return 0, ErrMalformed
	case unsigned[0] == '0' && len(digits) > 1:
		return 0, ErrMalformed
	}

	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, ErrMalformed
	}
	return n, nil
}
