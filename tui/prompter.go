package tui

import (
	"context"
	"sync"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/credential"
)

// Prompter asks for secrets inside the running dashboard.
type Prompter struct {
	mu       sync.Mutex
	program  *tea.Program
	detached chan struct{}
}

// NewPrompter creates a prompter that declines until a program is attached.
func NewPrompter() *Prompter {
	return &Prompter{}
}

// Attach routes prompts to program.
func (p *Prompter) Attach(program *tea.Program) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.program = program
	p.detached = make(chan struct{})
}

// Detach declines pending and future prompts. Call it once the program
// has exited.
func (p *Prompter) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.program != nil {
		p.program = nil
		close(p.detached)
	}
}

// Prompt implements credential.Prompter.
func (p *Prompter) Prompt(ctx context.Context, req credential.Request) (credential.Answer, error) {
	p.mu.Lock()
	program, detached := p.program, p.detached
	p.mu.Unlock()
	if program == nil {
		return credential.Answer{}, common.ErrCredentialDeclined
	}

	reply := make(chan promptReply, 1)
	sent := make(chan struct{})
	go func() {
		program.Send(promptRequestMsg{req: req, reply: reply})
		close(sent)
	}()

	select {
	case r := <-reply:
		return r.answer, r.err
	case <-detached:
		return credential.Answer{}, common.ErrCredentialDeclined
	case <-ctx.Done():
		// The dismissal must reach the model after the request it withdraws.
		go func() {
			<-sent
			program.Send(promptDismissMsg{reply: reply})
		}()
		return credential.Answer{}, ctx.Err()
	}
}

func newPromptState(msg promptRequestMsg) *promptState {
	input := textinput.New()
	input.Placeholder = "password"
	input.EchoMode = textinput.EchoPassword
	input.EchoCharacter = '•'
	input.Focus()
	return &promptState{req: msg.req, reply: msg.reply, input: input}
}

func (m *Model) handlePromptKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, promptSubmit):
		secret := m.prompt.input.Value()
		if secret == "" {
			m.answerPrompt(promptReply{err: common.ErrCredentialDeclined})
		} else {
			m.answerPrompt(promptReply{answer: credential.Answer{Secret: secret, Remember: m.prompt.remember}})
		}
		return nil

	case key.Matches(msg, promptDecline):
		m.answerPrompt(promptReply{err: common.ErrCredentialDeclined})
		return nil

	case key.Matches(msg, promptRemember):
		m.prompt.remember = !m.prompt.remember
		return nil
	}

	var cmd tea.Cmd
	m.prompt.input, cmd = m.prompt.input.Update(msg)
	return cmd
}

// dismissPrompt drops the request answered on reply, whether it is open
// or still queued.
func (m *Model) dismissPrompt(reply chan<- promptReply) {
	if m.prompt != nil && m.prompt.reply == reply {
		m.nextPrompt()
		return
	}
	for i, queued := range m.pending {
		if queued.reply == reply {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

// answerPrompt replies once and moves on to the next queued request.
// reply is buffered, so a requester that already gave up does not block
// the update loop.
func (m *Model) answerPrompt(r promptReply) {
	m.prompt.reply <- r
	m.nextPrompt()
}

func (m *Model) nextPrompt() {
	m.prompt = nil
	if len(m.pending) > 0 {
		m.prompt = newPromptState(m.pending[0])
		m.pending = m.pending[1:]
	}
}
