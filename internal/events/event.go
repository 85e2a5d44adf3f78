package events

import (
	"encoding/json"
	"fmt"
	"reflect"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	apperrors "eventcore/pkg/errors"
)

// Event is implemented by every event data type, on the value receiver so
// the subject is available from a zero value.
type Event interface {
	Subject() Subject
}

// Keyed events are partitioned by Key, giving per-entity ordering.
type Keyed interface {
	Key() string
}

// Envelope is the logical shape of a message. On the wire the subject is
// the topic and only Data is encoded.
type Envelope[T Event] struct {
	Subject Subject `json:"subject"`
	Data    T       `json:"data"`
}

func NewEnvelope[T Event](data T) Envelope[T] {
	return Envelope[T]{Subject: data.Subject(), Data: data}
}

// RawEnvelope carries undecoded data for tools that handle any subject.
type RawEnvelope struct {
	Subject Subject         `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

func SubjectOf[T Event]() Subject {
	var zero T
	return zero.Subject()
}

func KeyOf(e Event) string {
	if k, ok := e.(Keyed); ok {
		return k.Key()
	}
	return ""
}

func Encode[T Event](data T) ([]byte, error) {
	if err := validate(data); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrValidation.WithDetail("subject", data.Subject().String()))
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", data.Subject(), err)
	}
	return b, nil
}

// Decode parses raw JSON into T and validates it. Failures are DECODE_ERROR.
func Decode[T Event](raw []byte) (T, error) {
	var out T
	subject := out.Subject()

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, apperrors.Wrap(err, apperrors.ErrDecode.WithDetail("subject", subject.String()))
	}
	if err := validate(out); err != nil {
		return out, apperrors.Wrap(err, apperrors.ErrDecode.WithDetail("subject", subject.String()))
	}
	return out, nil
}

// DecodeAny decodes raw using the type registered for subject.
func DecodeAny(subject Subject, raw []byte) (Event, error) {
	t, ok := Lookup(subject)
	if !ok {
		return nil, apperrors.ErrDecode.WithDetail("message", fmt.Sprintf("unknown subject %q", subject))
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDecode.WithDetail("subject", subject.String()))
	}

	e := ptr.Elem().Interface().(Event)
	if err := validate(e); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDecode.WithDetail("subject", subject.String()))
	}
	return e, nil
}

func validate(v interface{}) error {
	if vv, ok := v.(validation.Validatable); ok {
		return vv.Validate()
	}
	return nil
}
