package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "eventcore/pkg/errors"
)

func sampleOrderCreated() OrderCreated {
	return OrderCreated{
		ID:             "o1",
		Status:         StatusWaitingPayment,
		ExpirationDate: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UserID:         "u1",
		Version:        0,
		AiModelCard: OrderCard{
			CardRefID:  "c1",
			ID:         "oc1",
			ModelRefID: "m1",
			Price:      111,
			UserID:     "u2",
			Version:    1,
		},
	}
}

func TestSubjectTopic(t *testing.T) {
	assert.Equal(t, "ecommerce-order.created", OrderCreatedSubject.Topic())
	assert.Equal(t, "ecommerce-model.updated", ModelUpdatedSubject.Topic())
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []Subject{
		ModelCreatedSubject,
		ModelUpdatedSubject,
		OrderCancelledSubject,
		OrderCreatedSubject,
		OrderExpiredSubject,
	}, Subjects())

	typ, ok := Lookup(OrderExpiredSubject)
	require.True(t, ok)
	assert.Equal(t, "OrderExpired", typ.Name())

	assert.True(t, OrderCreatedSubject.Valid())
	assert.False(t, Subject("order:paid").Valid())

	assert.Panics(t, func() { Register(OrderExpired{}) })
}

func TestParseSubject(t *testing.T) {
	s, err := ParseSubject("ecommerce-order.cancelled")
	require.NoError(t, err)
	assert.Equal(t, OrderCancelledSubject, s)

	s, err = ParseSubject("ecommerce-order:cancelled")
	require.NoError(t, err)
	assert.Equal(t, OrderCancelledSubject, s)

	_, err = ParseSubject("unknown")
	assert.Error(t, err)
}

func TestWireShape(t *testing.T) {
	raw, err := Encode(sampleOrderCreated())
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "o1", fields["id"])
	assert.Equal(t, "waiting:payment", fields["status"])
	assert.Equal(t, "2026-01-02T03:04:05Z", fields["expirationDate"])
	card := fields["aiModelCard"].(map[string]interface{})
	assert.Equal(t, "c1", card["cardRefId"])
	assert.EqualValues(t, 111, card["price"])
}

func TestDecodeAcceptsISOTimestampsWithMillis(t *testing.T) {
	raw := []byte(`{"id":"o1","status":"waiting:payment","expirationDate":"2026-01-02T03:04:05.123Z",
		"userId":"u1","version":0,"aiModelCard":{"cardRefId":"c1","id":"x","modelRefId":"m","price":5,"userId":"u","version":1}}`)

	got, err := Decode[OrderCreated](raw)
	require.NoError(t, err)
	assert.Equal(t, 123*time.Millisecond, time.Duration(got.ExpirationDate.Nanosecond()))
	assert.Equal(t, "o1", got.Key())
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"id":`},
		{"missing id", `{"status":"waiting:payment","expirationDate":"2026-01-02T03:04:05Z","userId":"u","aiModelCard":{"cardRefId":"c"}}`},
		{"terminal status", `{"id":"o","status":"cancelled","expirationDate":"2026-01-02T03:04:05Z","userId":"u","aiModelCard":{"cardRefId":"c"}}`},
		{"unknown status", `{"id":"o","status":"bogus","expirationDate":"2026-01-02T03:04:05Z","userId":"u","aiModelCard":{"cardRefId":"c"}}`},
		{"wrong status", `{"id":"o","status":"paid","expirationDate":"2026-01-02T03:04:05Z","userId":"u","aiModelCard":{"cardRefId":"c"}}`},
		{"missing card ref", `{"id":"o","status":"waiting:payment","expirationDate":"2026-01-02T03:04:05Z","userId":"u","aiModelCard":{}}`},
		{"bad timestamp", `{"id":"o","status":"waiting:payment","expirationDate":"tomorrow","userId":"u","aiModelCard":{"cardRefId":"c"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode[OrderCreated]([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, apperrors.IsDecode(err))
		})
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	_, err := Encode(OrderExpired{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestDecodeAny(t *testing.T) {
	e, err := DecodeAny(OrderExpiredSubject, []byte(`{"id":"o9"}`))
	require.NoError(t, err)
	assert.Equal(t, OrderExpired{ID: "o9"}, e)
	assert.Equal(t, "o9", KeyOf(e))

	_, err = DecodeAny("nope", []byte(`{}`))
	assert.True(t, apperrors.IsDecode(err))
}

func TestEnvelope(t *testing.T) {
	env := NewEnvelope(OrderExpired{ID: "o1"})
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"subject":"ecommerce-order:expired","data":{"id":"o1"}}`, string(raw))
	assert.Equal(t, OrderExpiredSubject, SubjectOf[OrderExpired]())
}

func TestDecodeAcceptsOpenStatuses(t *testing.T) {
	for _, status := range []OrderStatus{StatusCreated, StatusWaitingPayment} {
		raw := `{"id":"o","status":"` + string(status) + `","expirationDate":"2026-01-02T03:04:05Z","userId":"u","aiModelCard":{"cardRefId":"c"}}`
		got, err := Decode[OrderCreated]([]byte(raw))
		require.NoError(t, err, status)
		assert.Equal(t, status, got.Status)
	}
}

func TestOrderStatus(t *testing.T) {
	assert.False(t, StatusWaitingPayment.Terminal())
	assert.False(t, StatusCreated.Terminal())
	assert.True(t, StatusCreated.Valid())
	for _, s := range []OrderStatus{StatusPaid, StatusCancelled, StatusExpired} {
		assert.True(t, s.Terminal(), s)
	}
	assert.False(t, OrderStatus("bogus").Valid())
}
