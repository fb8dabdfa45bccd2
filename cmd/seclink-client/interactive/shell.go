// Package interactive provides the interactive command-line interface
// for the seclink client.
package interactive

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/seclink-protocol/seclink-go/pkg/keepalive"
	"github.com/seclink-protocol/seclink-go/pkg/securesock"
	"github.com/seclink-protocol/seclink-go/pkg/socket"
)

// Shell handles interactive mode for seclink-client.
type Shell struct {
	conn *securesock.SecureSocket
	rl   *readline.Instance
}

// New creates a new interactive shell around an established connection.
func New(conn *securesock.SecureSocket) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "seclink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Shell{conn: conn, rl: rl}, nil
}

// Stdout returns a writer that coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run starts the interactive command loop. It returns when the user
// exits or the connection becomes unusable.
func (s *Shell) Run() error {
	defer s.rl.Close()

	s.printHelp()

	for {
		line, err := s.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()

		case "send", "s":
			s.cmdSend(input, args)

		case "recv", "r":
			s.cmdRecv(args)

		case "info", "i":
			s.cmdInfo()

		case "status":
			s.cmdStatus()

		case "keepalive", "ka":
			s.cmdKeepAlive(args)

		case "quit", "exit", "q":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			return nil

		default:
			fmt.Fprintf(s.rl.Stdout(), "Unknown command: %s (try 'help')\n", cmd)
		}
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `Commands:
  send <text>          Send text to the server (s)
  recv [timeout]       Receive data, waiting up to timeout seconds (r)
  info                 Show negotiated TLS parameters (i)
  status               Show connection and keep-alive status
  keepalive start|stop|stats   Control the liveness monitor (ka)
  help                 Show this help (?)
  quit                 Close the connection and exit (q)`)
}

func (s *Shell) cmdSend(input string, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: send <text>")
		return
	}

	// Preserve the original spacing of the message.
	text := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(input, "send"), "s"))
	n, err := s.conn.Send([]byte(text))
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Send failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Sent %d bytes\n", n)
}

func (s *Shell) cmdRecv(args []string) {
	timeout := 5 * time.Second
	if len(args) > 0 {
		secs, err := strconv.Atoi(args[0])
		if err != nil || secs <= 0 {
			fmt.Fprintln(s.rl.Stdout(), "Usage: recv [timeout-seconds]")
			return
		}
		timeout = time.Duration(secs) * time.Second
	}

	ready, err := s.conn.WaitForActivity(timeout)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Wait failed: %v\n", err)
		return
	}
	if !ready {
		fmt.Fprintln(s.rl.Stdout(), "No data within timeout")
		return
	}

	buf := make([]byte, 4096)
	n, err := s.conn.Receive(buf)
	if err != nil {
		if errors.Is(err, socket.ErrDisconnected) {
			fmt.Fprintln(s.rl.Stdout(), "Connection closed by peer")
		} else {
			fmt.Fprintf(s.rl.Stdout(), "Receive failed: %v\n", err)
		}
		return
	}

	if keepalive.IsProbe(buf[:n]) {
		if m := s.conn.KeepAlive(); m != nil {
			m.ProcessResponse(buf[:n])
		}
		fmt.Fprintln(s.rl.Stdout(), "Received keep-alive probe response")
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Received %d bytes: %s\n", n, buf[:n])
}

func (s *Shell) cmdInfo() {
	info, err := s.conn.SecurityInfo()
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "No security info: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Version:      %s\n", info.Version)
	fmt.Fprintf(s.rl.Stdout(), "Cipher suite: %s\n", info.CipherSuite)
	fmt.Fprintf(s.rl.Stdout(), "Curve:        %s\n", info.Curve)
}

func (s *Shell) cmdStatus() {
	fmt.Fprintf(s.rl.Stdout(), "Connection:  %s\n", s.conn.ID())
	fmt.Fprintf(s.rl.Stdout(), "Remote:      %v\n", s.conn.RemoteAddr())
	fmt.Fprintf(s.rl.Stdout(), "Connected:   %v\n", s.conn.IsConnected())

	if m := s.conn.KeepAlive(); m != nil {
		fmt.Fprintf(s.rl.Stdout(), "Keep-alive:  %s\n", m.State())
	} else {
		fmt.Fprintln(s.rl.Stdout(), "Keep-alive:  not started")
	}
}

func (s *Shell) cmdKeepAlive(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: keepalive start|stop|stats")
		return
	}

	switch args[0] {
	case "start":
		m, err := s.conn.StartKeepAlive(keepalive.Config{}, nil)
		if err != nil {
			fmt.Fprintf(s.rl.Stdout(), "Start failed: %v\n", err)
			return
		}
		cfg := m.Config()
		fmt.Fprintf(s.rl.Stdout(), "Keep-alive started (interval %v, timeout %v, retries %d)\n",
			cfg.Interval, cfg.Timeout, cfg.MaxRetries)

	case "stop":
		m := s.conn.KeepAlive()
		if m == nil {
			fmt.Fprintln(s.rl.Stdout(), "Keep-alive not started")
			return
		}
		m.Stop()
		fmt.Fprintln(s.rl.Stdout(), "Keep-alive stopped")

	case "stats":
		m := s.conn.KeepAlive()
		if m == nil {
			fmt.Fprintln(s.rl.Stdout(), "Keep-alive not started")
			return
		}
		st := m.Stats()
		fmt.Fprintf(s.rl.Stdout(), "State:         %s\n", st.State)
		fmt.Fprintf(s.rl.Stdout(), "Sequence:      %d\n", st.Sequence)
		fmt.Fprintf(s.rl.Stdout(), "Retries:       %d\n", st.Retries)
		fmt.Fprintf(s.rl.Stdout(), "Last sent:     %s\n", formatTime(st.LastSent))
		fmt.Fprintf(s.rl.Stdout(), "Last received: %s\n", formatTime(st.LastReceived))

	default:
		fmt.Fprintln(s.rl.Stdout(), "Usage: keepalive start|stop|stats")
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.TimeOnly)
}
