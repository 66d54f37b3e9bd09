// Package fix implements a minimal FIX 4.4 acceptor for order entry:
// tag=value encoding with SOH framing, session-level Logon/Heartbeat/Logout,
// and the three order-entry flows (NewOrderSingle, OrderCancelRequest,
// OrderCancelReplaceRequest) mapped onto the engine. Execution reports and
// trades flow back as ExecutionReport (35=8) messages.
package fix

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// SOH is the FIX field delimiter.
const SOH = '\x01'

// BeginString for every message this acceptor speaks.
const BeginString = "FIX.4.4"

// Tags used by the acceptor.
const (
	TagBeginString  = 8
	TagBodyLength   = 9
	TagCheckSum     = 10
	TagClOrdID      = 11
	TagAvgPx        = 6
	TagCumQty       = 14
	TagExecID       = 17
	TagLastPx       = 31
	TagLastQty      = 32
	TagMsgSeqNum    = 34
	TagMsgType      = 35
	TagOrderID      = 37
	TagOrderQty     = 38
	TagOrdStatus    = 39
	TagOrdType      = 40
	TagOrigClOrdID  = 41
	TagPrice        = 44
	TagSenderCompID = 49
	TagSendingTime  = 52
	TagSide         = 54
	TagSymbol       = 55
	TagTargetCompID = 56
	TagText         = 58
	TagTimeInForce  = 59
	TagTransactTime = 60
	TagHeartBtInt   = 108
	TagTestReqID    = 112
	TagExecType     = 150
	TagLeavesQty    = 151
)

// Message types.
const (
	MsgTypeHeartbeat          = "0"
	MsgTypeTestRequest        = "1"
	MsgTypeReject             = "3"
	MsgTypeLogout             = "5"
	MsgTypeExecutionReport    = "8"
	MsgTypeOrderCancelReject  = "9"
	MsgTypeLogon              = "A"
	MsgTypeNewOrderSingle     = "D"
	MsgTypeOrderCancelRequest = "F"
	MsgTypeCancelReplace      = "G"
)

// field is one tag=value pair; Message preserves body field order.
type field struct {
	Tag   int
	Value string
}

// Message is a decoded or under-construction FIX message. The session layer
// fills the header (8, 9, 34, 49, 52, 56) and trailer (10) on encode; only
// 35 and body fields are set by callers.
type Message struct {
	MsgType string
	fields  []field
}

// NewMessage starts a message of the given type.
func NewMessage(msgType string) *Message {
	return &Message{MsgType: msgType}
}

// Set appends a body field.
func (m *Message) Set(tag int, value string) *Message {
	m.fields = append(m.fields, field{Tag: tag, Value: value})
	return m
}

// SetInt appends an integer body field.
func (m *Message) SetInt(tag int, v int64) *Message {
	return m.Set(tag, strconv.FormatInt(v, 10))
}

// Get returns the first value for a tag.
func (m *Message) Get(tag int) (string, bool) {
	for _, f := range m.fields {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return "", false
}

// GetOrEmpty returns the first value for a tag, or "".
func (m *Message) GetOrEmpty(tag int) string {
	v, _ := m.Get(tag)
	return v
}

// Encode frames the message: BeginString and BodyLength are computed, the
// standard header fields are emitted in order, and the checksum trailer is
// appended.
func (m *Message) Encode(senderCompID, targetCompID string, seqNum uint64, sendingTime string) []byte {
	var body bytes.Buffer
	writeField := func(tag int, value string) {
		body.WriteString(strconv.Itoa(tag))
		body.WriteByte('=')
		body.WriteString(value)
		body.WriteByte(SOH)
	}

	writeField(TagMsgType, m.MsgType)
	writeField(TagSenderCompID, senderCompID)
	writeField(TagTargetCompID, targetCompID)
	writeField(TagMsgSeqNum, strconv.FormatUint(seqNum, 10))
	writeField(TagSendingTime, sendingTime)
	for _, f := range m.fields {
		writeField(f.Tag, f.Value)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "%d=%s%c%d=%d%c", TagBeginString, BeginString, SOH, TagBodyLength, body.Len(), SOH)
	out.Write(body.Bytes())
	fmt.Fprintf(&out, "%d=%03d%c", TagCheckSum, checksum(out.Bytes()), SOH)
	return out.Bytes()
}

// checksum is the FIX modulo-256 byte sum.
func checksum(b []byte) int {
	sum := 0
	for _, c := range b {
		sum += int(c)
	}
	return sum % 256
}

// DecodeError describes a framing or validation failure.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "fix: " + e.Reason }

func decodeErrorf(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// ReadMessage reads one framed message from r, verifying BodyLength and
// CheckSum. Header fields (8, 9, 34, 49, 52, 56, 10) are parsed but only
// body fields and 34/49/56 are retained on the returned message.
func ReadMessage(r *bufio.Reader) (*Message, error) {
	// 8=FIX.4.4<SOH>
	begin, err := r.ReadString(SOH)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(begin, "8=") {
		return nil, decodeErrorf("expected BeginString, got %q", begin)
	}
	if strings.TrimSuffix(strings.TrimPrefix(begin, "8="), string(SOH)) != BeginString {
		return nil, decodeErrorf("unsupported BeginString %q", begin)
	}

	// 9=<len><SOH>
	lenRaw, err := r.ReadString(SOH)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(lenRaw, "9=") {
		return nil, decodeErrorf("expected BodyLength, got %q", lenRaw)
	}
	bodyLen, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(lenRaw, "9="), string(SOH)))
	if err != nil || bodyLen <= 0 || bodyLen > 1<<16 {
		return nil, decodeErrorf("bad BodyLength %q", lenRaw)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	// 10=NNN<SOH>
	trailer, err := r.ReadString(SOH)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(trailer, "10=") {
		return nil, decodeErrorf("expected CheckSum, got %q", trailer)
	}
	want, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(trailer, "10="), string(SOH)))
	if err != nil {
		return nil, decodeErrorf("bad CheckSum %q", trailer)
	}
	sum := checksum([]byte(begin)) + checksum([]byte(lenRaw)) + checksum(body)
	if sum%256 != want {
		return nil, decodeErrorf("checksum mismatch: computed %03d, message says %03d", sum%256, want)
	}

	msg := &Message{}
	for _, part := range bytes.Split(body, []byte{SOH}) {
		if len(part) == 0 {
			continue
		}
		eq := bytes.IndexByte(part, '=')
		if eq <= 0 {
			return nil, decodeErrorf("malformed field %q", part)
		}
		tag, err := strconv.Atoi(string(part[:eq]))
		if err != nil {
			return nil, decodeErrorf("non-numeric tag %q", part[:eq])
		}
		value := string(part[eq+1:])
		if tag == TagMsgType {
			msg.MsgType = value
			continue
		}
		msg.fields = append(msg.fields, field{Tag: tag, Value: value})
	}
	if msg.MsgType == "" {
		return nil, decodeErrorf("missing MsgType")
	}
	return msg, nil
}

