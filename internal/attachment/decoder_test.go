package attachment

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/pagesmith/internal/logging"
	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

func TestRepairPadding(t *testing.T) {
	inputs := [][]byte{
		[]byte("a"),
		[]byte("ab"),
		[]byte("abc"),
		[]byte("abcd"),
		{0x00, 0xff, 0x10, 0x20, 0x30},
	}
	for _, raw := range inputs {
		padded := base64.StdEncoding.EncodeToString(raw)
		unpadded := base64.RawStdEncoding.EncodeToString(raw)

		for missing := 0; missing <= len(padded)-len(unpadded); missing++ {
			trimmed := padded[:len(padded)-missing]
			got, err := base64.StdEncoding.DecodeString(RepairPadding(trimmed))
			require.NoError(t, err, "input %q missing %d", padded, missing)
			assert.Equal(t, raw, got)
		}
	}
	assert.Equal(t, "abcd", RepairPadding("abcd"))
	assert.Equal(t, "abc=", RepairPadding("abc"))
}

func TestRepairPadding_LengthOneRemainder(t *testing.T) {
	assert.Equal(t, "Q===", RepairPadding("Q"))
	_, err := base64.StdEncoding.DecodeString(RepairPadding("Q"))
	assert.Error(t, err)
}

func TestDecodeDataURI(t *testing.T) {
	content, mediaType, err := DecodeDataURI("data:text/plain;base64,aGVsbG8")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
	assert.Equal(t, "text/plain", mediaType)

	_, _, err = DecodeDataURI("https://example.com/a.png")
	assert.ErrorIs(t, err, ErrNotDataURI)

	_, _, err = DecodeDataURI("data:image/png;base64,!!!notbase64")
	assert.Error(t, err)
}

func TestDecoder_PartialFailure(t *testing.T) {
	logger := logging.NewTestLogger()
	dec := NewDecoder(logger.Logger)

	files := dec.Decode(context.Background(), []task.Attachment{
		{Name: "a.txt", URL: "data:text/plain;base64,YQ=="},
		{Name: "bad.png", URL: "data:image/png;base64,@@@@"},
		{Name: "c.txt", URL: "data:text/plain;base64,Yw"},
	})

	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, "c", string(files[1].Content))
	logger.AssertLogged(t, zapcore.WarnLevel, "failed to decode attachment")
}

func TestDecoder_SkipsRemoteAndUnsafe(t *testing.T) {
	dec := NewDecoder(nil)

	files := dec.Decode(context.Background(), []task.Attachment{
		{Name: "remote.png", URL: "https://example.com/remote.png"},
		{Name: "../escape.txt", URL: "data:text/plain;base64,YQ=="},
		{Name: ".git/config", URL: "data:text/plain;base64,YQ=="},
		{Name: "/assets/ok.txt", URL: "data:text/plain;base64,YQ=="},
	})

	require.Len(t, files, 1)
	assert.Equal(t, "assets/ok.txt", files[0].Name)
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"index.html", "index.html", false},
		{"img/../logo.png", "logo.png", false},
		{`dir\file.txt`, "dir/file.txt", false},
		{"..", "", true},
		{"../x", "", true},
		{"", "", true},
		{".git/HEAD", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SafeName(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsafeName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
