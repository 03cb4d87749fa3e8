package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_CodeSyncObjectAndString(t *testing.T) {
	cases := map[string]string{
		"object": `{"type":"initial_code_sync","data":{"code":"print(1)","language":"python"}}`,
		"string": `{"type":"initial_code_sync","data":"{\"code\":\"print(1)\",\"language\":\"python\"}"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			msg, err := Decode([]byte(raw))
			require.NoError(t, err)

			sync, ok := msg.(InitialCodeSync)
			require.True(t, ok, "got %T", msg)
			require.NotNil(t, sync.Payload.Code)
			require.NotNil(t, sync.Payload.Language)
			assert.Equal(t, "print(1)", *sync.Payload.Code)
			assert.Equal(t, "python", *sync.Payload.Language)
		})
	}
}

func TestDecode_CodeSyncMissingFields(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"code_sync","data":{"language":"go"}}`))
	require.NoError(t, err)

	sync := msg.(CodeSync)
	assert.Nil(t, sync.Payload.Code)
	require.NotNil(t, sync.Payload.Language)
	assert.Equal(t, "go", *sync.Payload.Language)
}

func TestDecode_TextPayloads(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"output","data":"hello\n"}`))
	require.NoError(t, err)
	assert.Equal(t, Output{Data: "hello\n"}, msg)

	msg, err = Decode([]byte(`{"type":"execution_complete","data":"Exit code: 0"}`))
	require.NoError(t, err)
	assert.Equal(t, ExecutionComplete{Summary: "Exit code: 0"}, msg)

	msg, err = Decode([]byte(`{"type":"error"}`))
	require.NoError(t, err)
	assert.Equal(t, ExecutionError{}, msg)

	msg, err = Decode([]byte(`{"type":"collab_update","data":{"note":1}}`))
	require.NoError(t, err)
	assert.Equal(t, CollabUpdate{Text: `{"note":1}`}, msg)
}

func TestDecode_ChatMessage(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"chat_message","data":{"text":"hi","userId":"u-2","displayName":"bob"}}`))
	require.NoError(t, err)

	chat, ok := msg.(ChatMessage)
	require.True(t, ok)
	assert.Equal(t, ChatPayload{Text: "hi", UserID: "u-2", DisplayName: "bob"}, chat.Payload)
}

func TestDecode_BareFrames(t *testing.T) {
	for raw, want := range map[string]Inbound{
		`{"type":"input_request"}`:     InputRequest{},
		`{"type":"execution_started"}`: ExecutionStarted{},
		`{"type":"pong"}`:              Pong{},
	} {
		msg, err := Decode([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, want, msg)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"presence","data":{"who":"bob"}}`))
	require.NoError(t, err)

	u, ok := msg.(Unknown)
	require.True(t, ok)
	assert.Equal(t, "presence", u.Kind())
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"data":"x"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"type":"code_sync","data":"{broken"}`))
	assert.Error(t, err)
}

func TestLanguages(t *testing.T) {
	assert.Len(t, Languages(), 11)
	assert.True(t, IsSupported("kotlin"))
	assert.False(t, IsSupported("cobol"))
	assert.Equal(t, "C#", LanguageLabel("csharp"))
	assert.Equal(t, "cobol", LanguageLabel("cobol"))
}
