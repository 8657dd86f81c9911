// pkg/protocol/frame_test.go
package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		{Type: TypeConnected},
		{Type: TypeReady, Subdomain: "myapp"},
		{Type: TypeRegistered, Subdomain: "myapp", URL: "https://myapp.example.com"},
		{Type: TypeError, Message: "boom"},
		{
			Type:    TypeRequest,
			ID:      "req-1",
			Method:  "GET",
			Path:    "/test",
			Headers: map[string]string{"accept": "application/json"},
			Body:    `{"hello":"world"}`,
		},
		{
			Type:            TypeResponse,
			ID:              "req-1",
			Status:          200,
			Headers:         map[string]string{"content-type": "application/json"},
			Body:            `{"ok":true}`,
			IsBase64Encoded: false,
		},
		{Type: TypePing},
		{Type: TypePong},
	}

	for _, want := range cases {
		t.Run(string(want.Type), func(t *testing.T) {
			wire, err := Encode(want)
			require.NoError(t, err)
			got, err := Decode(wire)
			require.NoError(t, err)
			require.Equal(t, want, got)
		})
	}
}

func TestDecodeUnknownTypeTolerated(t *testing.T) {
	f, err := Decode([]byte(`{"type":"future-frame","extra":"field"}`))
	require.NoError(t, err)
	require.Equal(t, Type("future-frame"), f.Type)
}

func TestDecodeMissingTypeRejected(t *testing.T) {
	_, err := Decode([]byte(`{"subdomain":"x"}`))
	require.Error(t, err)
}

func TestEncodeOmitsAbsentOptionalFields(t *testing.T) {
	wire, err := Encode(Frame{Type: TypePing})
	require.NoError(t, err)
	require.NotContains(t, string(wire), "null")
	require.NotContains(t, string(wire), "subdomain")
}

func TestIsBinaryContentType(t *testing.T) {
	binary := []string{"application/octet-stream", "image/png", "audio/mpeg", "video/mp4", "application/pdf", "IMAGE/JPEG"}
	for _, ct := range binary {
		require.True(t, IsBinaryContentType(ct), ct)
	}
	text := []string{"application/json", "text/plain", "text/html; charset=utf-8", ""}
	for _, ct := range text {
		require.False(t, IsBinaryContentType(ct), ct)
	}
}

func TestStripRequestHeaders(t *testing.T) {
	in := map[string]string{
		"Host":           "tunnel.example.com",
		"Connection":     "keep-alive",
		"Upgrade":        "websocket",
		"Content-Length": "42",
		"X-Custom":       "keep-me",
	}
	out := StripRequestHeaders(in)
	require.Equal(t, map[string]string{"x-custom": "keep-me"}, out)
}

func TestStripResponseHeaders(t *testing.T) {
	in := map[string]string{
		"Content-Encoding":  "gzip",
		"Transfer-Encoding": "chunked",
		"Connection":        "keep-alive",
		"Content-Type":      "application/json",
	}
	out := StripResponseHeaders(in, true)
	require.Equal(t, map[string]string{"content-type": "application/json"}, out)

	out2 := StripResponseHeaders(in, false)
	require.Equal(t, map[string]string{"content-type": "application/json", "connection": "keep-alive"}, out2)
}

func TestBodyRoundTripText(t *testing.T) {
	raw := []byte(`{"hello":"world"}`)
	body, isBase64 := EncodeBody(raw, "application/json")
	require.False(t, isBase64)
	got, err := DecodeBody(body, isBase64)
	require.NoError(t, err)
	require.Equal(t, raw, got)
}

func TestBodyRoundTripBinary(t *testing.T) {
	raw := make([]byte, 1024)
	for i := range raw {
		raw[i] = byte(i % 256)
	}
	body, isBase64 := EncodeBody(raw, "application/octet-stream")
	require.True(t, isBase64)
	got, err := DecodeBody(body, isBase64)
	require.NoError(t, err)
	require.Equal(t, raw, got)
}
