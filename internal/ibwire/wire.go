// Package ibwire implements the ibclient Transport over the TWS/Gateway
// socket protocol in its legacy framing: each message is a 4-byte big-endian
// length followed by NUL-separated ASCII fields, the first field being the
// numeric message id. Only the message types the client issues are encoded;
// unknown inbound messages are skipped.
package ibwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const apiPrefix = "API\x00"

// clientVersion is the API version announced during the handshake.
const clientVersion = "157"

// Outgoing message ids.
const (
	msgReqContractData    = 9
	msgReqHistoricalData  = 20
	msgStartAPI           = 71
	msgReqSecDefOptParams = 78
)

// Incoming message ids.
const (
	msgNextValidID       = 1
	msgErrMsg            = 4
	msgContractData      = 10
	msgHistoricalData    = 17
	msgContractDataEnd   = 21
	msgSecDefOptParam    = 75
	msgSecDefOptParamEnd = 76
)

// writeFrame sends one length-prefixed message. Every field, including the
// last, is NUL-terminated.
func writeFrame(w io.Writer, fields ...string) error {
	var payload bytes.Buffer
	for _, f := range fields {
		payload.WriteString(f)
		payload.WriteByte(0)
	}
	var head [4]byte
	binary.BigEndian.PutUint32(head[:], uint32(payload.Len()))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}

// readFrame reads one length-prefixed message and splits it into fields.
func readFrame(r io.Reader) ([]string, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(head[:])
	if size == 0 || size > 1<<24 {
		return nil, fmt.Errorf("ibwire: bad frame size %d", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	fields := strings.Split(string(payload), "\x00")
	// The trailing NUL yields one empty final element.
	if n := len(fields); n > 0 && fields[n-1] == "" {
		fields = fields[:n-1]
	}
	return fields, nil
}

// fieldReader walks the fields of a decoded frame with sticky errors, so
// decode code reads straight through and checks once.
type fieldReader struct {
	fields []string
	pos    int
	err    error
}

func (f *fieldReader) str() string {
	if f.err != nil {
		return ""
	}
	if f.pos >= len(f.fields) {
		f.err = fmt.Errorf("ibwire: truncated message (field %d of %d)", f.pos, len(f.fields))
		return ""
	}
	s := f.fields[f.pos]
	f.pos++
	return s
}

func (f *fieldReader) int() int64 {
	s := f.str()
	if f.err != nil {
		return 0
	}
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f.err = fmt.Errorf("ibwire: bad int field %q", s)
		return 0
	}
	return v
}

func (f *fieldReader) float() float64 {
	s := f.str()
	if f.err != nil || s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		f.err = fmt.Errorf("ibwire: bad float field %q", s)
		return 0
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
