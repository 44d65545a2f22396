package rowstream

import "unicode/utf8"

// Record is one decoded data row. Values are positional against the header
// set of the stream that produced it, so column order is preserved.
type Record struct {
	headers []string
	values  []string
	cols    []int // see objectColumns; nil when header names are unique
}

// NewRecord pairs a header set with one row of values. The caller must make
// sure len(values) == len(headers).
func NewRecord(headers, values []string) Record {
	return Record{headers: headers, values: values, cols: objectColumns(headers)}
}

// objectColumns maps a header set with repeated names onto the columns of
// its JSON object: one per distinct name, in first-seen order, each taking
// the value of the last column with that name. It returns nil when every
// name is unique.
func objectColumns(headers []string) []int {
	pos := make(map[string]int, len(headers))
	cols := make([]int, 0, len(headers))
	for i, h := range headers {
		if j, ok := pos[h]; ok {
			cols[j] = i
			continue
		}
		pos[h] = len(cols)
		cols = append(cols, i)
	}
	if len(cols) == len(headers) {
		return nil
	}
	return cols
}

// Len returns the number of columns.
func (r Record) Len() int {
	return len(r.values)
}

// Headers returns the column names in file order.
func (r Record) Headers() []string {
	return r.headers
}

// Values returns the cell values in column order.
func (r Record) Values() []string {
	return r.values
}

// Get returns the value of the column called name. When the name repeats,
// the last such column wins, as in the JSON form.
func (r Record) Get(name string) (string, bool) {
	for i := len(r.headers) - 1; i >= 0; i-- {
		if r.headers[i] == name {
			return r.values[i], true
		}
	}
	return "", false
}

// Map returns the record as an unordered map. Later duplicate columns win.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r.values))
	for i, h := range r.headers {
		m[h] = r.values[i]
	}
	return m
}

// AppendJSON appends the record as a JSON object with keys in column order.
// Only quotes, backslashes and control characters are escaped, the same
// output a browser's JSON.stringify produces, so the text can be searched
// as the user typed it. A repeated header name appears once, holding the
// value of its last column. Invalid UTF-8 is written as U+FFFD.
func (r Record) AppendJSON(dst []byte) []byte {
	dst = append(dst, '{')
	if r.cols == nil {
		for i, h := range r.headers {
			dst = appendMember(dst, i > 0, h, r.values[i])
		}
	} else {
		for n, i := range r.cols {
			dst = appendMember(dst, n > 0, r.headers[i], r.values[i])
		}
	}
	return append(dst, '}')
}

func appendMember(dst []byte, comma bool, key, value string) []byte {
	if comma {
		dst = append(dst, ',')
	}
	dst = appendQuoted(dst, key)
	dst = append(dst, ':')
	return appendQuoted(dst, value)
}

// MarshalJSON implements json.Marshaler, keeping column order.
func (r Record) MarshalJSON() ([]byte, error) {
	return r.AppendJSON(make([]byte, 0, 16*len(r.values)+2)), nil
}

const hexDigits = "0123456789abcdef"

func appendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				dst = append(dst, `\ufffd`...)
			} else {
				dst = append(dst, s[i:i+size]...)
			}
			i += size - 1
			continue
		}
		switch {
		case c == '"' || c == '\\':
			dst = append(dst, '\\', c)
		case c == '\n':
			dst = append(dst, '\\', 'n')
		case c == '\r':
			dst = append(dst, '\\', 'r')
		case c == '\t':
			dst = append(dst, '\\', 't')
		case c == '\b':
			dst = append(dst, '\\', 'b')
		case c == '\f':
			dst = append(dst, '\\', 'f')
		case c < 0x20:
			dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
		default:
			dst = append(dst, c)
		}
	}
	return append(dst, '"')
}
