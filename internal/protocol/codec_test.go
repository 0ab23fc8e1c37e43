package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	encoded := EncodeFrame(SpectatorFrames, payload)

	frames, err := DecodeAllFrames(encoded)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, SpectatorFrames, frames[0].ID)
	assert.Equal(t, payload, frames[0].Payload)
}

func TestDecodeFramesMultiple(t *testing.T) {
	var buf []byte
	buf = append(buf, EncodeFrame(OsuPing, nil)...)
	buf = append(buf, BuildNotification("hello")...)

	frames, consumed, err := DecodeFrames(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), consumed)
	require.Len(t, frames, 2)
	assert.Equal(t, OsuPing, frames[0].ID)
	assert.Equal(t, Notification, frames[1].ID)
}

func TestDecodeFramesPartialTrailingFrameNotConsumed(t *testing.T) {
	full := EncodeFrame(OsuPing, []byte{1, 2, 3})
	partial := full[:len(full)-1]

	frames, consumed, err := DecodeFrames(partial)
	require.NoError(t, err)
	assert.Equal(t, 0, consumed)
	assert.Empty(t, frames)
}

func TestBanchoMessageRoundTrip(t *testing.T) {
	m := BanchoMessage{Sender: "alice", Content: "hello world", Target: "#osu", SenderID: 42}
	w := NewWriter()
	WriteBanchoMessage(w, m)

	r := NewReader(w.Bytes())
	got, err := ReadBanchoMessage(r)
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.Equal(t, 0, r.Remaining())
}

func TestClientChangeActionRoundTrip(t *testing.T) {
	a := ClientChangeAction{
		OnlineStatus: 1,
		Description:  "playing",
		BeatmapMD5:   "abc123",
		Mods:         128,
		Mode:         0,
		BeatmapID:    99,
	}
	w := NewWriter()
	WriteClientChangeAction(w, a)

	r := NewReader(w.Bytes())
	got, err := ReadClientChangeAction(r)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestI32SliceRoundTrip(t *testing.T) {
	values := []int32{1, 2, 3, -4, 5}
	w := NewWriter()
	w.WriteI32Slice(values)

	r := NewReader(w.Bytes())
	got, err := r.ReadI32Slice()
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestReadStringEmpty(t *testing.T) {
	w := NewWriter()
	w.WriteString("")
	r := NewReader(w.Bytes())
	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "", s)
}

func TestReaderShortBuffer(t *testing.T) {
	r := NewReader([]byte{1})
	_, err := r.ReadI32()
	assert.ErrorIs(t, err, ErrShortBuffer)
}
