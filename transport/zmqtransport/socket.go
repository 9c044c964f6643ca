package zmqtransport

import (
	"fmt"
	"sync"
	"time"

	"github.com/pborman/uuid"
	zmq "github.com/pebbe/zmq4"

	"github.com/dermesser/taskbroker/log"
)

const chanCap = 4096

const cmdClose = "close"

// sendFailure is a message the socket could not send.
type sendFailure struct {
	frames [][]byte
	err    error
}

// socket gives a zmq socket a goroutine-safe, channel based interface.
// zmq sockets must not be used concurrently, so one goroutine (mainLoop) owns
// the socket. Outgoing messages travel from the send channel through an inproc
// PUSH/PULL pair into mainLoop's poller; commands travel through a PAIR pipe.
type socket struct {
	id     string
	sock   *zmq.Socket
	recv   chan [][]byte
	send   chan [][]byte
	failed chan sendFailure

	commands  chan string
	done      chan struct{}
	closeOnce sync.Once
}

func newSocket(sock *zmq.Socket) (*socket, error) {
	s := &socket{
		id:       uuid.NewRandom().String(),
		sock:     sock,
		recv:     make(chan [][]byte, chanCap),
		send:     make(chan [][]byte, chanCap),
		failed:   make(chan sendFailure, chanCap),
		commands: make(chan string),
		done:     make(chan struct{}),
	}

	// The inproc endpoints are bound here, before either loop starts, so that
	// mainLoop's connects never race with the binds.
	localPush, err := zmq.NewSocket(zmq.PUSH)
	if err != nil {
		return nil, err
	}
	if err := localPush.Bind(s.localPullEndpoint()); err != nil {
		localPush.Close()
		return nil, err
	}
	pipe, err := zmq.NewSocket(zmq.PAIR)
	if err != nil {
		localPush.Close()
		return nil, err
	}
	if err := pipe.Bind(s.pipeEndpoint()); err != nil {
		localPush.Close()
		pipe.Close()
		return nil, err
	}

	ready := make(chan error)
	go s.mainLoop(ready)
	if err := <-ready; err != nil {
		localPush.Close()
		pipe.Close()
		return nil, err
	}
	go s.sendLoop(localPush, pipe)
	return s, nil
}

func (s *socket) localPullEndpoint() string {
	return fmt.Sprintf("inproc://local_pull_%s", s.id)
}

func (s *socket) pipeEndpoint() string {
	return fmt.Sprintf("inproc://local_pipe_%s", s.id)
}

func (s *socket) mainLoop(ready chan<- error) {
	defer close(s.done)
	defer close(s.recv)

	localPull, err := zmq.NewSocket(zmq.PULL)
	if err != nil {
		ready <- err
		return
	}
	defer localPull.Close()
	if err := localPull.Connect(s.localPullEndpoint()); err != nil {
		ready <- err
		return
	}

	pipe, err := zmq.NewSocket(zmq.PAIR)
	if err != nil {
		ready <- err
		return
	}
	defer pipe.Close()
	if err := pipe.Connect(s.pipeEndpoint()); err != nil {
		ready <- err
		return
	}
	close(ready)

	poller := zmq.NewPoller()
	poller.Add(s.sock, zmq.POLLIN)
	poller.Add(localPull, zmq.POLLIN)
	poller.Add(pipe, zmq.POLLIN)

	for {
		polled, err := poller.Poll(-1)
		if err != nil {
			if zmq.AsErrno(err) == zmq.ETERM {
				return
			}
			log.Log(log.LevelErrors, "Polling error in socket loop: ", err.Error())
			continue
		}

		for _, p := range polled {
			switch p.Socket {
			case pipe:
				cmd, err := pipe.RecvMessage(0)
				if err != nil || len(cmd) == 0 || cmd[0] == cmdClose {
					s.flush(localPull)
					s.sock.Close()
					return
				}
			case localPull:
				msg, err := localPull.RecvMessageBytes(0)
				if err != nil {
					log.Log(log.LevelErrors, "Error when receiving from local queue: ", err.Error())
					continue
				}
				if _, err := s.sock.SendMessage(msg); err != nil {
					select {
					case s.failed <- sendFailure{frames: msg, err: err}:
					default:
						log.Log(log.LevelWarnings, "Dropped send failure report: ", err.Error())
					}
				}
			case s.sock:
				msg, err := s.sock.RecvMessageBytes(0)
				if err != nil {
					log.Log(log.LevelWarnings, "Skipped incoming message, error: ", err.Error())
					continue
				}
				s.recv <- msg
			}
		}
	}
}

// flush hands everything still waiting in the local queue to the socket.
// Whether it leaves the process after Close depends on the linger period.
func (s *socket) flush(localPull *zmq.Socket) {
	for {
		msg, err := localPull.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil {
			return
		}
		if _, err := s.sock.SendMessage(msg); err != nil {
			log.Log(log.LevelWarnings, "Dropped message on close: ", err.Error())
		}
	}
}

func (s *socket) sendLoop(localPush, pipe *zmq.Socket) {
	defer localPush.Close()
	defer pipe.Close()

	for {
		select {
		case cmd := <-s.commands:
			if cmd == cmdClose {
				s.drainSends(localPush)
			}
			if _, err := pipe.SendMessage(cmd); err != nil {
				log.Log(log.LevelErrors, "Could not send command to socket loop: ", err.Error())
			}
			if cmd == cmdClose {
				return
			}
		case msg := <-s.send:
			if _, err := localPush.SendMessage(msg); err != nil {
				log.Log(log.LevelErrors, "Error when queueing message: ", err.Error())
			}
		}
	}
}

// drainSends moves what Send has queued so far into the local queue, ahead of
// the close command.
func (s *socket) drainSends(localPush *zmq.Socket) {
	for {
		select {
		case msg := <-s.send:
			if _, err := localPush.SendMessage(msg); err != nil {
				log.Log(log.LevelErrors, "Error when queueing message: ", err.Error())
			}
		default:
			return
		}
	}
}

// close stops both loops and closes the zmq socket. Messages queued before
// close are handed to zmq first and sent within the linger period.
func (s *socket) close() {
	s.closeOnce.Do(func() {
		s.commands <- cmdClose
		// drain so that mainLoop is never stuck delivering to a reader that left
		for {
			select {
			case <-s.done:
				return
			case <-s.recv:
			}
		}
	})
}

func (s *socket) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Shutdown terminates the zmq context before the process exits, so that
// messages lingering on closed sockets are delivered. It waits at most d;
// sockets left open would otherwise block it forever. No socket can be
// created afterwards.
func Shutdown(d time.Duration) {
	done := make(chan struct{})
	go func() {
		zmq.Term()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		log.Log(log.LevelWarnings, "Gave up waiting for sockets to flush")
	}
}
