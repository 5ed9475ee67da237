package anscheduler

import (
	"sync"

	"github.com/anscheduler/anscheduler/internal/msgpool"
)

// socketCore is the shared state between a connector and a receiver
// end, mirroring socket_t: two independent message queues, one per
// direction, and the pair of endpoint tasks.
type socketCore struct {
	connRecLock sync.Mutex
	connector   *Task
	receiver    *Task

	msgsLock        sync.Mutex
	forConnector    messageQueue
	forReceiver     messageQueue
}

type messageQueue struct {
	first, last *Message
	count       int
}

func (q *messageQueue) push(msg *Message) {
	msg.last = q.last
	if q.last != nil {
		q.last.next = msg
	} else {
		q.first = msg
	}
	q.last = msg
	q.count++
}

func (q *messageQueue) pop() (*Message, bool) {
	if q.count == 0 {
		return nil, false
	}
	msg := q.first
	if msg.next != nil {
		q.first = msg.next
		msg.next.last = nil
	} else {
		q.first, q.last = nil, nil
	}
	q.count--
	return msg, true
}

// SocketLink is one endpoint's handle on a socket: either the
// connector (the end that called NewSocket) or the receiver (the end
// that accepted it), mirroring socket_link_t. A task's descriptor
// table holds SocketLinks, chained by descriptor hash bucket.
type SocketLink struct {
	core        *socketCore
	isConnector bool
	descriptor  uint64
	task        *Task

	next, last *SocketLink // task.sockets[bucket] chain

	closeLock sync.Mutex
	isClosed  bool
	closeCode uint64
	closeType MessageType // teardown message delivered to the peer, see Close
	refCount  uint64
}

func descriptorBucket(desc uint64) int {
	return int(desc & (SocketBuckets - 1))
}

// NewSocket allocates a fresh socket and returns the connector's end,
// mirroring anscheduler_socket_new.
func NewSocket(task *Task) (*SocketLink, error) {
	desc, ok := task.descriptors.Get()
	if !ok {
		return nil, NewTaskError("NewSocket", task.pid, ErrCodeCapacityRefused, "descriptor table exhausted")
	}

	core := &socketCore{connector: task}
	link := &SocketLink{
		core:        core,
		isConnector: true,
		descriptor:  desc,
		task:        task,
		refCount:    1,
	}

	addSocket(link)
	if task.observer != nil {
		task.observer.ObserveSocketCreated()
	}
	return link, nil
}

// Connect creates the receiver-side link for connector's socket in
// peerTask, registers it in the peer's descriptor table, and enqueues
// a CONNECT control message (payload = the new descriptor, so the
// peer can learn which descriptor to read from) before waking it.
func Connect(connector *SocketLink, peerTask *Task) (bool, error) {
	desc, ok := peerTask.descriptors.Get()
	if !ok {
		return false, NewTaskError("Connect", peerTask.pid, ErrCodeCapacityRefused, "descriptor table exhausted")
	}

	connector.core.connRecLock.Lock()
	connector.core.receiver = peerTask
	connector.core.connRecLock.Unlock()

	link := &SocketLink{
		core:       connector.core,
		descriptor: desc,
		task:       peerTask,
		refCount:   1,
	}
	addSocket(link)

	payload := msgpool.Get(8)
	for i := 0; i < 8; i++ {
		payload[i] = byte(desc >> (8 * i))
	}
	Msg(connector, &Message{Type: connectMessage, Payload: payload})
	return true, nil
}

// connectMessage is the control message type carrying a freshly
// accepted descriptor number to the receiving end.
const connectMessage MessageType = 1

// SocketForDescriptor resolves a descriptor to a referenced link,
// mirroring anscheduler_socket_for_descriptor. The caller must
// Dereference the link when done.
func SocketForDescriptor(task *Task, desc uint64) (*SocketLink, bool) {
	task.socketsLock.Lock()
	defer task.socketsLock.Unlock()

	for link := task.sockets[descriptorBucket(desc)]; link != nil; link = link.next {
		if link.descriptor == desc {
			if ReferenceSocket(link) {
				return link, true
			}
			return nil, false
		}
	}
	return nil, false
}

// ReferenceSocket takes a reference on link, failing if it is already
// closed, mirroring anscheduler_socket_reference.
func ReferenceSocket(link *SocketLink) bool {
	link.closeLock.Lock()
	defer link.closeLock.Unlock()
	if link.isClosed {
		return false
	}
	link.refCount++
	return true
}

// DereferenceSocket releases a reference taken by ReferenceSocket, or
// the initial one a link gets from NewSocket/Connect, destroying the link once both its refcount and
// close flag say it is done, mirroring anscheduler_socket_dereference.
func DereferenceSocket(link *SocketLink) {
	link.closeLock.Lock()
	link.refCount--
	if link.refCount == 0 && link.isClosed {
		link.closeLock.Unlock()
		destroySocket(link)
		return
	}
	link.closeLock.Unlock()
}

// Msg enqueues msg for delivery to the far end of link and wakes a
// polling thread on the peer task, mirroring anscheduler_socket_msg.
// Data messages are refused once the peer's queue hits MaxBuf; control
// messages are never refused.
func Msg(link *SocketLink, msg *Message) bool {
	link.core.msgsLock.Lock()
	queue := writeQueue(link)
	if msg.Type == DataMessage && queue.count >= MaxBuf {
		link.core.msgsLock.Unlock()
		if link.task.observer != nil {
			link.task.observer.ObserveMessage(false)
		}
		return false
	}
	queue.push(msg)
	link.core.msgsLock.Unlock()

	if link.task.observer != nil {
		link.task.observer.ObserveMessage(true)
	}
	wakeupPeer(link)
	return true
}

// Read dequeues the next message addressed to link's end, mirroring
// the spec's read(): it pops from the queue opposite the one msg()
// writes into.
func Read(link *SocketLink) (*Message, bool) {
	link.core.msgsLock.Lock()
	defer link.core.msgsLock.Unlock()
	return readQueue(link).pop()
}

// writeQueue is the queue a write from link's end lands in: messages
// destined for the far side.
func writeQueue(link *SocketLink) *messageQueue {
	if link.isConnector {
		return &link.core.forReceiver
	}
	return &link.core.forConnector
}

// readQueue is the queue link's own end reads from: the opposite of
// writeQueue, since it holds messages the far side wrote addressed to
// this end.
func readQueue(link *SocketLink) *messageQueue {
	if link.isConnector {
		return &link.core.forConnector
	}
	return &link.core.forReceiver
}

// Close marks link for destruction with the given close code. The
// link is actually freed once its last reference drops, mirroring
// anscheduler_socket_close. The peer observes a REMOTE_CLOSED message.
func Close(link *SocketLink, code uint64) {
	closeWithMessage(link, remoteClosedMessage, code)
}

// closeWithMessage marks link for destruction like Close, but records
// msgType as the control message delivered to the surviving peer
// instead of the default REMOTE_CLOSED. Used when the closing side was
// killed rather than closing voluntarily.
func closeWithMessage(link *SocketLink, msgType MessageType, code uint64) {
	link.closeLock.Lock()
	link.isClosed = true
	link.closeCode = code
	link.closeType = msgType
	link.closeLock.Unlock()
}

func addSocket(link *SocketLink) {
	task := link.task
	bucket := descriptorBucket(link.descriptor)

	task.socketsLock.Lock()
	link.next = task.sockets[bucket]
	link.last = nil
	if task.sockets[bucket] != nil {
		task.sockets[bucket].last = link
	}
	task.sockets[bucket] = link
	task.socketsLock.Unlock()
}

func removeSocket(link *SocketLink) {
	task := link.task
	bucket := descriptorBucket(link.descriptor)

	task.socketsLock.Lock()
	if link.last == nil {
		task.sockets[bucket] = link.next
	} else {
		link.last.next = link.next
	}
	if link.next != nil {
		link.next.last = link.last
	}
	task.socketsLock.Unlock()

	task.descriptors.Put(link.descriptor)
}

// destroySocket unlinks link from its task, tells the peer end its
// connector/receiver pointer is gone, and either delivers a
// close-code control message to the surviving peer or frees the
// shared core outright, mirroring _socket_destroy.
func destroySocket(link *SocketLink) {
	removeSocket(link)
	unpendSocket(link)

	var hasOtherEnd bool
	link.core.connRecLock.Lock()
	if link.isConnector {
		link.core.connector = nil
		hasOtherEnd = link.core.receiver != nil
	} else {
		link.core.receiver = nil
		hasOtherEnd = link.core.connector != nil
	}
	link.core.connRecLock.Unlock()

	if link.task.observer != nil {
		link.task.observer.ObserveSocketDestroyed()
	}

	if hasOtherEnd {
		Msg(link, newTeardownMessage(link.closeType, link.closeCode))
	} else {
		freeSocketCore(link.core)
	}
}

// freeSocketCore drops every still-queued message once no endpoint
// remains to read them, mirroring _free_socket.
func freeSocketCore(core *socketCore) {
	drainQueue(&core.forConnector)
	drainQueue(&core.forReceiver)
}

// drainQueue pops every message out of q, releasing each payload back
// to the pool, rather than letting the GC reclaim them along with the
// queue itself.
func drainQueue(q *messageQueue) {
	for {
		msg, ok := q.pop()
		if !ok {
			return
		}
		ReleaseMessage(msg)
	}
}

// peerLink returns link's opposite endpoint, if the socket still has
// one, and its task, each referenced for the duration of the caller's
// use. Callers must Dereference the task and DereferenceSocket the
// link when done.
func peerLink(link *SocketLink) (*SocketLink, *Task) {
	link.core.connRecLock.Lock()
	defer link.core.connRecLock.Unlock()

	var peerTask *Task
	var peer *SocketLink
	if link.isConnector {
		peerTask = link.core.receiver
	} else {
		peerTask = link.core.connector
	}
	if peerTask == nil {
		return nil, nil
	}
	if !Reference(peerTask) {
		return nil, nil
	}

	// The peer's descriptor was allocated in peerTask's own numbering,
	// so every bucket has to be searched, not link.descriptor's.
	peerTask.socketsLock.Lock()
	for _, head := range peerTask.sockets {
		for l := head; l != nil; l = l.next {
			if l.core == link.core && l.isConnector != link.isConnector {
				peer = l
				break
			}
		}
		if peer != nil {
			break
		}
	}
	peerTask.socketsLock.Unlock()

	if peer == nil || !ReferenceSocket(peer) {
		Dereference(peerTask)
		return nil, nil
	}
	return peer, peerTask
}

// wakeupPeer finds the far end's task, idempotently splices the far
// end's link into its pending list, and requeues one of its polling
// threads, mirroring _wakeup_poller with the direct context switch
// replaced by a ready-queue push: the peer's goroutine naturally
// resumes the next time a dispatcher pops it, rather than via an
// immediate hand-off.
func wakeupPeer(link *SocketLink) {
	peer, peerTask := peerLink(link)
	if peerTask == nil {
		return
	}
	defer Dereference(peerTask)
	defer DereferenceSocket(peer)

	peerTask.pendingLock.Lock()
	already := false
	for _, job := range peerTask.pending {
		if job == peer {
			already = true
			break
		}
	}
	if !already {
		peerTask.pending = append(peerTask.pending, peer)
	}
	peerTask.pendingLock.Unlock()

	wakeupPollingThread(peerTask)
}

// unpendSocket removes link from its task's pending list, if present,
// used while destroying a socket so a dead link is never handed back
// to a polling thread.
func unpendSocket(link *SocketLink) {
	task := link.task
	task.pendingLock.Lock()
	defer task.pendingLock.Unlock()
	for i, job := range task.pending {
		if job == link {
			task.pending = append(task.pending[:i], task.pending[i+1:]...)
			return
		}
	}
}

// closeAllSockets forcibly closes and dereferences every socket still
// open on task, run once the task is unreferenced and being torn
// down. socket.c never implemented this path ("TODO: close sockets
// here"); this completes it in the same spirit as the rest of
// _free_task_method. Surviving peers observe REMOTE_KILLED or
// REMOTE_MEMORY_FAULT, per task's kill reason, rather than the
// REMOTE_CLOSED a voluntary Close delivers.
func closeAllSockets(task *Task) {
	msgType := killMessageType(task.KillReason())

	task.socketsLock.Lock()
	var links []*SocketLink
	for _, head := range task.sockets {
		for link := head; link != nil; link = link.next {
			links = append(links, link)
		}
	}
	task.socketsLock.Unlock()

	for _, link := range links {
		closeWithMessage(link, msgType, 0)
		DereferenceSocket(link)
	}
}
