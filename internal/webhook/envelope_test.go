package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/storage/model"
)

func TestUnwrap(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "objeto puro", in: `{"chat":{},"message":{}}`, want: `{"chat":{},"message":{}}`},
		{name: "array", in: ` [{"type":"ReceivedCallback"}] `, want: `{"type":"ReceivedCallback"}`},
		{name: "body objeto", in: `{"headers":{},"body":{"event":"messages.upsert"}}`, want: `{"event":"messages.upsert"}`},
		{name: "body string", in: `{"body":"{\"object\":\"page\"}"}`, want: `{"object":"page"}`},
		{name: "array com body", in: `[{"body":{"type":"ReceivedCallback"}}]`, want: `{"type":"ReceivedCallback"}`},
		{name: "body de provedor preservado", in: `{"type":"ReceivedCallback","body":{"x":1}}`, want: `{"type":"ReceivedCallback","body":{"x":1}}`},
		{name: "body escalar preservado", in: `{"body":"texto"}`, want: `{"body":"texto"}`},
		{name: "array vazio", in: `[]`, want: `[]`},
		{name: "array de números", in: `[1,2]`, want: `1`},
		{name: "string", in: `"texto"`, want: `"texto"`},
		{name: "null", in: `null`, want: `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unwrap([]byte(tt.in))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestUnwrap_Invalid(t *testing.T) {
	for _, in := range []string{``, `{`, `[1,`, `texto`} {
		_, err := Unwrap([]byte(in))
		assert.ErrorIs(t, err, ErrInvalidJSON, in)
	}
}

func TestDetectShape_NonObject(t *testing.T) {
	for _, in := range []string{`[]`, `1`, `"texto"`, `null`, `true`} {
		assert.Equal(t, ShapeUnknown, DetectShape([]byte(in)), in)
	}
}

func TestDetectShape(t *testing.T) {
	tests := []struct {
		in   string
		want Shape
	}{
		{`{"chat":{"wa_chatid":"5531999999999@s.whatsapp.net"},"message":{"id":"m1"}}`, ShapeChat},
		{`{"object":"whatsapp_business_account","entry":[]}`, ShapeMetaWhatsApp},
		{`{"entry":[{"id":"1"}]}`, ShapeMetaWhatsApp},
		{`{"object":"instagram","entry":[]}`, ShapeInstagram},
		{`{"object":"page","entry":[]}`, ShapeInstagram},
		{`{"event":"messages.upsert","instance":"loja","data":{}}`, ShapeEvolution},
		{`{"type":"ReceivedCallback","phone":"5531999999999"}`, ShapeZAPICallback},
		{`{"type":"DeliveryCallback","instanceId":"3C0FFEE"}`, ShapeZAPICallback},
		{`{"event":{"Type":"Read"}}`, ShapeUnknown},
		{`{"foo":1}`, ShapeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectShape([]byte(tt.in)), tt.in)
	}
}

func TestShapeFor(t *testing.T) {
	assert.Equal(t, ShapeMetaWhatsApp, ShapeFor(model.Integration{Provider: model.ProviderMetaOfficial, Channel: model.ChannelWhatsApp}))
	assert.Equal(t, ShapeInstagram, ShapeFor(model.Integration{Provider: model.ProviderMetaOfficial, Channel: model.ChannelInstagram}))
	assert.Equal(t, ShapeEvolution, ShapeFor(model.Integration{Provider: model.ProviderEvolutionAPI}))
	assert.Equal(t, ShapeChat, ShapeFor(model.Integration{Provider: model.ProviderUAZAPI}))
	assert.Equal(t, ShapeZAPICallback, ShapeFor(model.Integration{Provider: model.ProviderZAPI}))
	assert.Equal(t, ShapeUnknown, ShapeFor(model.Integration{Provider: "outro"}))
}

func TestShape_ParseUnknown(t *testing.T) {
	res := ShapeUnknown.Parse([]byte(`{}`))
	assert.Equal(t, provider.EventUnknown, res.EventType)
	assert.True(t, res.Success)
}
