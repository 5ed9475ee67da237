package anscheduler

import "github.com/anscheduler/anscheduler/internal/msgpool"

// MessageType distinguishes a buffered data message (subject to
// MaxBuf backpressure) from a control message (connection close,
// unbounded).
type MessageType uint64

// DataMessage is an ordinary, backpressured payload delivery.
const DataMessage MessageType = 0

// Message is one entry in a socket's inbound queue, mirroring
// socket_msg_t. Unlike the original, which overloads Type itself with
// the raw close code on teardown, a remoteClosedMessage carries the
// code in Payload and keeps Type as a normal discriminant.
type Message struct {
	Type    MessageType
	Payload []byte

	next, last *Message
}

// NewDataMessage builds a bounded data message, mirroring
// anscheduler_socket_msg_data. The payload is copied so the caller's
// buffer can be reused afterward.
func NewDataMessage(data []byte) (*Message, error) {
	if len(data) > MaxMessagePayload {
		return nil, NewError("NewDataMessage", ErrCodeInvalidArgs, "payload exceeds maximum message size")
	}
	payload := msgpool.Get(len(data))
	copy(payload, data)
	return &Message{Type: DataMessage, Payload: payload}, nil
}

// ReleaseMessage returns msg's payload buffer to the pool. Callers
// must not touch msg.Payload afterward. Only messages built through
// NewDataMessage/newTeardownMessage/Connect's control payload came from
// the pool; any other payload is pooled only if its capacity matches a
// pool bucket exactly, and is otherwise dropped.
func ReleaseMessage(msg *Message) {
	msgpool.Put(msg.Payload)
}

// Control message types delivered to a socket's surviving peer when the
// other end is torn down. remoteClosedMessage is an ordinary voluntary
// close; remoteKilledMessage and remoteMemoryFaultMessage distinguish
// the two ways a task's death can force its sockets shut.
const (
	remoteClosedMessage      MessageType = 2
	remoteKilledMessage      MessageType = 3
	remoteMemoryFaultMessage MessageType = 5
)

func newCloseMessage(code uint64) *Message {
	return newTeardownMessage(remoteClosedMessage, code)
}

// newTeardownMessage builds a socket-teardown control message of the
// given type, encoding code as its little-endian 8-byte payload.
func newTeardownMessage(msgType MessageType, code uint64) *Message {
	payload := msgpool.Get(8)
	for i := 0; i < 8; i++ {
		payload[i] = byte(code >> (8 * i))
	}
	return &Message{Type: msgType, Payload: payload}
}

// killMessageType reports which teardown message a task's sockets
// should deliver to their peers given why the task was killed.
func killMessageType(reason KillReason) MessageType {
	if reason == KillReasonMemory {
		return remoteMemoryFaultMessage
	}
	return remoteKilledMessage
}
