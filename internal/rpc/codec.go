package rpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Decoder reads calls from a stream. It returns io.EOF at the clean end of
// the stream and a *MalformedCallError for a call that could not be decoded
// but after which reading may continue.
type Decoder interface {
	Decode(call *Call) error
}

// Encoder writes replies to a stream.
type Encoder interface {
	Encode(v any) error
}

// Codec frames calls and replies on a byte stream.
type Codec interface {
	Name() string
	NewDecoder(r io.Reader) Decoder
	NewEncoder(w io.Writer) Encoder
}

// MalformedCallError reports an undecodable call.
type MalformedCallError struct {
	Err error
}

func (e *MalformedCallError) Error() string { return "malformed call: " + e.Err.Error() }
func (e *MalformedCallError) Unwrap() error { return e.Err }

// CodecByName returns the codec called name ("json" or "cbor").
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "json", "":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSONCodec frames one JSON document per line.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) NewDecoder(r io.Reader) Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return &jsonLineDecoder{scanner: sc}
}

func (JSONCodec) NewEncoder(w io.Writer) Encoder {
	return json.NewEncoder(w)
}

type jsonLineDecoder struct {
	scanner *bufio.Scanner
}

func (d *jsonLineDecoder) Decode(call *Call) error {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		*call = Call{}
		if err := json.Unmarshal([]byte(line), call); err != nil {
			return &MalformedCallError{Err: err}
		}
		return nil
	}
	if err := d.scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// encMode is the CBOR encoder mode for replies.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for calls.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Untyped results decode to string-keyed maps, as with JSON.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		DefaultMapType:    reflect.TypeOf(map[string]any(nil)),
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// CBORCodec frames calls and replies as a CBOR sequence.
type CBORCodec struct{}

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) NewDecoder(r io.Reader) Decoder {
	return &cborDecoder{dec: decMode.NewDecoder(r)}
}

func (CBORCodec) NewEncoder(w io.Writer) Encoder {
	return encMode.NewEncoder(w)
}

type cborDecoder struct {
	dec *cbor.Decoder
}

func (d *cborDecoder) Decode(call *Call) error {
	*call = Call{}
	err := d.dec.Decode(call)
	if err == nil {
		return nil
	}
	var typeErr *cbor.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &MalformedCallError{Err: err}
	}
	return err
}
