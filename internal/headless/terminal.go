package headless

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/ppiankov/jnlpguard/internal/model"
)

// Terminal prompts an operator sitting at a terminal. It speaks the same
// protocol as Handler and repeats the description after a rejected line,
// but reads credential passwords with echo disabled.
type Terminal struct {
	*Handler
	fd           int
	readPassword func(fd int) ([]byte, error)
}

// NewTerminal prompts on out and reads from the terminal in.
func NewTerminal(in *os.File, out io.Writer, opts ...Option) *Terminal {
	opts = append([]Option{WithRepeatPrompt(true)}, opts...)
	return &Terminal{
		Handler:      New(in, out, opts...),
		fd:           int(in.Fd()),
		readPassword: term.ReadPassword,
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Present asks for credentials field by field; every other kind uses
// the line protocol.
func (t *Terminal) Present(ctx context.Context, req *model.Request) (model.Answer, error) {
	if req.Kind().Shape() != model.ShapeCredentials {
		return t.Handler.Present(ctx, req)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return model.Answer{}, ErrStreamClosed
	}

	fmt.Fprintln(t.out, Describe(ctx, req, t.resolver))
	for {
		fmt.Fprint(t.out, "User (or CANCEL): ")
		user, tooLong, ok := t.readLine()
		if !ok {
			return model.Answer{}, ErrStreamClosed
		}
		switch {
		case isExit(user):
			t.exit(0)
			return model.Answer{}, ErrExit
		case strings.EqualFold(user, string(model.ChoiceCancel)):
			return model.Answer{Decision: model.Credentials{Cancelled: true}}, nil
		case tooLong || user == "" || strings.ContainsAny(user, " \t"):
			fmt.Fprintln(t.out, "Invalid answer: user name must be one word")
			continue
		}

		fmt.Fprint(t.out, "Password: ")
		pw, err := t.readPassword(t.fd)
		fmt.Fprintln(t.out)
		if err != nil {
			return model.Answer{}, fmt.Errorf("read password: %w", err)
		}
		return model.Answer{Decision: model.Credentials{User: user, Password: string(pw)}}, nil
	}
}
