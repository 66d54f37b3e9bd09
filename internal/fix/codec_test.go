package fix

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := NewMessage(MsgTypeNewOrderSingle).
		Set(TagClOrdID, "abc-1").
		Set(TagSymbol, "DIRE-USD").
		Set(TagSide, "1").
		Set(TagOrderQty, "10").
		Set(TagOrdType, "2").
		Set(TagPrice, "100.5")

	raw := msg.Encode("CLIENT", "DIRE", 7, "20260824-12:00:00.000")
	assert.True(t, bytes.HasPrefix(raw, []byte("8=FIX.4.4\x019=")))
	assert.True(t, bytes.Contains(raw, []byte("\x0110=")))

	got, err := ReadMessage(bufio.NewReader(bytes.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, MsgTypeNewOrderSingle, got.MsgType)
	assert.Equal(t, "abc-1", got.GetOrEmpty(TagClOrdID))
	assert.Equal(t, "100.5", got.GetOrEmpty(TagPrice))
	assert.Equal(t, "CLIENT", got.GetOrEmpty(TagSenderCompID))
	assert.Equal(t, "7", got.GetOrEmpty(TagMsgSeqNum))
}

func TestDecodeRejectsChecksumMismatch(t *testing.T) {
	raw := NewMessage(MsgTypeHeartbeat).Encode("A", "B", 1, "20260824-12:00:00.000")
	// Corrupt one body byte without touching the trailer.
	idx := bytes.Index(raw, []byte("34=1"))
	require.Positive(t, idx)
	raw[idx+3] = '9'

	_, err := ReadMessage(bufio.NewReader(bytes.NewReader(raw)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestDecodeRejectsBadFraming(t *testing.T) {
	cases := map[string]string{
		"wrong begin string": "8=FIX.4.2\x019=5\x0135=0\x0110=000\x01",
		"missing body length": "8=FIX.4.4\x0135=0\x01",
		"zero body length":    "8=FIX.4.4\x019=0\x0110=000\x01",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadMessage(bufio.NewReader(strings.NewReader(raw)))
			assert.Error(t, err)
		})
	}
}

func TestDecodeRequiresMsgType(t *testing.T) {
	body := "49=A\x0156=B\x01"
	raw := "8=FIX.4.4\x019=" + strconv.Itoa(len(body)) + "\x01" + body
	sum := 0
	for _, c := range []byte(raw) {
		sum += int(c)
	}
	raw += fmt.Sprintf("10=%03d\x01", sum%256)

	_, err := ReadMessage(bufio.NewReader(strings.NewReader(raw)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MsgType")
}

func TestBodyLengthCoversHeaderThroughBody(t *testing.T) {
	raw := NewMessage(MsgTypeHeartbeat).Encode("A", "B", 1, "20260824-12:00:00.000")
	// BodyLength counts everything between it and the checksum field.
	parts := bytes.SplitN(raw, []byte{SOH}, 3)
	require.Len(t, parts, 3)
	declared := string(bytes.TrimPrefix(parts[1], []byte("9=")))
	body := parts[2][:bytes.Index(parts[2], []byte("10="))]
	assert.Equal(t, declared, strconv.Itoa(len(body)))
}
