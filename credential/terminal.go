package credential

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/yllada/vpnrdp-manager/common"
)

// TerminalPrompter reads secrets from a terminal without echo. When the
// input is not a terminal it reads plain lines, which keeps it scriptable.
type TerminalPrompter struct {
	in  io.Reader
	out io.Writer
	fd  int
	tty bool

	// mu serializes reads; a read abandoned by a canceled prompt may
	// still hold it.
	mu    sync.Mutex
	lines *bufio.Reader
}

// NewTerminalPrompter prompts on stdin/stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return NewPrompterIO(os.Stdin, os.Stderr)
}

// NewPrompterIO prompts on the given streams. Echo is disabled only if in is
// an *os.File attached to a terminal.
func NewPrompterIO(in io.Reader, out io.Writer) *TerminalPrompter {
	p := &TerminalPrompter{in: in, out: out, fd: -1}
	if f, ok := in.(*os.File); ok {
		p.fd = int(f.Fd())
		p.tty = term.IsTerminal(p.fd)
	}
	p.lines = bufio.NewReader(in)
	return p
}

// Prompt implements Prompter. An empty secret counts as declined.
func (p *TerminalPrompter) Prompt(ctx context.Context, req Request) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}

	fmt.Fprintf(p.out, "%s: ", req.Label())
	type result struct {
		secret string
		err    error
	}
	read := make(chan result, 1)
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		secret, err := p.readSecret()
		read <- result{secret, err}
	}()

	var secret string
	select {
	case r := <-read:
		if r.err != nil {
			return Answer{}, fmt.Errorf("%w: %v", common.ErrCredentialDeclined, r.err)
		}
		secret = r.secret
	case <-ctx.Done():
		// The read stays blocked until the next line; the prompt is gone.
		fmt.Fprintln(p.out)
		return Answer{}, fmt.Errorf("%w: %v", common.ErrCredentialDeclined, ctx.Err())
	}
	if secret == "" {
		return Answer{}, common.ErrCredentialDeclined
	}

	fmt.Fprint(p.out, "Remember this password? [y/N]: ")
	p.mu.Lock()
	reply, err := p.readLine()
	p.mu.Unlock()
	if err != nil && reply == "" {
		return Answer{Secret: secret}, nil
	}
	reply = strings.ToLower(strings.TrimSpace(reply))
	return Answer{Secret: secret, Remember: reply == "y" || reply == "yes"}, nil
}

func (p *TerminalPrompter) readSecret() (string, error) {
	if p.tty {
		b, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := p.readLine()
	if err != nil && line == "" {
		return "", err
	}
	return line, nil
}

func (p *TerminalPrompter) readLine() (string, error) {
	line, err := p.lines.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

// ReadSecret asks for one secret without the remember question. An empty
// answer returns common.ErrCredentialDeclined.
func (p *TerminalPrompter) ReadSecret(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	p.mu.Lock()
	secret, err := p.readSecret()
	p.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrCredentialDeclined, err)
	}
	if secret == "" {
		return "", common.ErrCredentialDeclined
	}
	return secret, nil
}
