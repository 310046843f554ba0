package emailtest

import (
	"net"
	"net/textproto"
	"strings"
	"sync"
)

// Server is a minimal SMTP server on a loopback listener. Like postfix it
// refuses rejected recipients at RCPT and answers 503 to a MAIL sent while
// a transaction is still open.
type Server struct {
	reject map[string]bool

	ln net.Listener
	wg sync.WaitGroup

	mu        sync.Mutex
	conns     map[net.Conn]struct{}
	sessions  int
	delivered []string
}

// NewServer starts listening on 127.0.0.1 with a random port.
func NewServer(reject ...string) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		reject: make(map[string]bool),
		ln:     ln,
		conns:  make(map[net.Conn]struct{}),
	}
	for _, addr := range reject {
		s.reject[addr] = true
	}

	s.wg.Add(1)
	go s.serve()
	return s, nil
}

func (s *Server) Host() string { return "127.0.0.1" }

func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Sessions counts accepted connections.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// Delivered lists recipients whose message was accepted after DATA.
func (s *Server) Delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.delivered...)
}

func (s *Server) Close() {
	_ = s.ln.Close()

	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.sessions++
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	tp := textproto.NewConn(conn)
	if err := tp.PrintfLine("220 fake ESMTP"); err != nil {
		return
	}

	var (
		inTx  bool
		rcpts []string
	)

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}

		verb, arg, _ := strings.Cut(line, " ")

		var reply string
		switch strings.ToUpper(verb) {
		case "EHLO", "HELO":
			reply = "250 fake"
		case "MAIL":
			if inTx {
				reply = "503 5.5.1 Error: nested MAIL command"
				break
			}
			inTx = true
			rcpts = nil
			reply = "250 2.1.0 Ok"
		case "RCPT":
			if !inTx {
				reply = "503 5.5.1 Error: need MAIL command"
				break
			}
			addr := strings.TrimSuffix(strings.TrimPrefix(arg, "TO:<"), ">")
			if s.reject[addr] {
				reply = "550 5.1.1 <" + addr + ">: Recipient address rejected: User unknown"
				break
			}
			rcpts = append(rcpts, addr)
			reply = "250 2.1.5 Ok"
		case "DATA":
			if len(rcpts) == 0 {
				reply = "554 5.5.1 Error: no valid recipients"
				break
			}
			if err := tp.PrintfLine("354 End data with <CR><LF>.<CR><LF>"); err != nil {
				return
			}
			if _, err := tp.ReadDotBytes(); err != nil {
				return
			}

			s.mu.Lock()
			s.delivered = append(s.delivered, rcpts...)
			s.mu.Unlock()

			inTx = false
			rcpts = nil
			reply = "250 2.0.0 Ok: queued"
		case "RSET":
			inTx = false
			rcpts = nil
			reply = "250 2.0.0 Ok"
		case "NOOP":
			reply = "250 2.0.0 Ok"
		case "QUIT":
			_ = tp.PrintfLine("221 2.0.0 Bye")
			return
		default:
			reply = "502 5.5.2 Error: command not recognized"
		}

		if err := tp.PrintfLine("%s", reply); err != nil {
			return
		}
	}
}
