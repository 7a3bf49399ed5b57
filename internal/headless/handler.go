// Package headless answers authorization prompts over a line protocol on
// stdin and stdout, for environments without a display.
//
// Each prompt prints a description and the accepted tokens, then reads
// one line:
//
//	[R |RC ]<token>
//
// "R " remembers the answer for the application, "RC " for its codebase.
// The line "exit" ends the process with status 0.
package headless

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ppiankov/jnlpguard/internal/hostcheck"
	"github.com/ppiankov/jnlpguard/internal/model"
)

var (
	// ErrStreamClosed means input ended before an answer was read. Every
	// later prompt fails the same way.
	ErrStreamClosed = errors.New("headless input closed")

	// ErrMalformedInput wraps a line that could not be parsed.
	ErrMalformedInput = errors.New("malformed answer")

	// ErrExit is returned after the operator typed exit and the exit
	// function returned, which only happens when it is replaced in tests.
	ErrExit = errors.New("exit requested")
)

const (
	prefixApplication = "R "
	prefixOrigin      = "RC "
	exitCommand       = "exit"

	// maxLine bounds an answer line. Longer lines are discarded and
	// rejected; they do not end the session.
	maxLine = 64 * 1024
)

// Handler implements the text protocol. Prompts are serialized; the
// broker already asks one at a time.
type Handler struct {
	mu        sync.Mutex
	in        *bufio.Reader
	out       io.Writer
	resolver  *hostcheck.Resolver
	exit      func(int)
	repeatAll bool
	closed    bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithResolver annotates network prompts with resolved addresses.
func WithResolver(r *hostcheck.Resolver) Option {
	return func(h *Handler) { h.resolver = r }
}

// WithExit replaces os.Exit for the exit command.
func WithExit(fn func(int)) Option {
	return func(h *Handler) { h.exit = fn }
}

// WithRepeatPrompt prints the full description again after a rejected
// line instead of only the accepted tokens.
func WithRepeatPrompt(on bool) Option {
	return func(h *Handler) { h.repeatAll = on }
}

// New reads answers from in and writes prompts to out.
func New(in io.Reader, out io.Writer, opts ...Option) *Handler {
	h := &Handler{in: bufio.NewReaderSize(in, 4096), out: out, exit: os.Exit}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Present prints req and reads lines until one parses. A malformed line
// is reported and the same request is asked again.
func (h *Handler) Present(ctx context.Context, req *model.Request) (model.Answer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return model.Answer{}, ErrStreamClosed
	}

	shape := req.Kind().Shape()
	text := Describe(ctx, req, h.resolver)
	hint := Hint(req.Kind())

	fmt.Fprintln(h.out, text)
	for {
		if err := ctx.Err(); err != nil {
			return model.Answer{}, err
		}
		fmt.Fprintln(h.out, hint)

		line, tooLong, ok := h.readLine()
		if !ok {
			return model.Answer{}, ErrStreamClosed
		}
		if isExit(line) {
			h.exit(0)
			return model.Answer{}, ErrExit
		}

		ans, err := ParseLine(shape, line)
		if tooLong {
			err = fmt.Errorf("%w: line longer than %d bytes", ErrMalformedInput, maxLine)
		} else if err == nil {
			if cerr := req.CheckDecision(ans.Decision); cerr != nil {
				err = fmt.Errorf("%w: %v", ErrMalformedInput, cerr)
			}
		}
		if err != nil {
			fmt.Fprintf(h.out, "Invalid answer: %v\n", err)
			if h.repeatAll {
				fmt.Fprintln(h.out, text)
			}
			continue
		}
		return ans, nil
	}
}

// readLine returns the next trimmed line. A line over maxLine is read to
// its end and reported as tooLong. Only end of input or a read error
// closes the session; a read error is reported on the output.
func (h *Handler) readLine() (line string, tooLong, ok bool) {
	var buf []byte
	for {
		chunk, err := h.in.ReadSlice('\n')
		if !tooLong && len(buf)+len(chunk) <= maxLine {
			buf = append(buf, chunk...)
		} else {
			tooLong, buf = true, nil
		}

		switch {
		case err == nil:
			return strings.TrimSpace(string(buf)), tooLong, true
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && (len(buf) > 0 || tooLong):
			// last line without a newline
			return strings.TrimSpace(string(buf)), tooLong, true
		case !errors.Is(err, io.EOF):
			fmt.Fprintf(h.out, "Input error: %v\n", err)
		}
		h.closed = true
		return "", false, false
	}
}

func isExit(line string) bool {
	return strings.EqualFold(line, exitCommand)
}

// ParseLine splits the remember prefix off line and decodes the rest as
// an answer of the given shape.
func ParseLine(shape model.Shape, line string) (model.Answer, error) {
	scope := model.RememberNone
	switch {
	case strings.HasPrefix(line, prefixOrigin):
		scope = model.RememberOrigin
		line = line[len(prefixOrigin):]
	case strings.HasPrefix(line, prefixApplication):
		scope = model.RememberApplication
		line = line[len(prefixApplication):]
	}

	d, err := model.ParseDecision(shape, line)
	if err != nil {
		return model.Answer{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return model.Answer{Decision: d, Remember: scope}, nil
}

// Hint lists the tokens accepted for kind.
func Hint(kind model.Kind) string {
	var b strings.Builder
	b.WriteString("Answer ")
	b.WriteString(strings.Join(model.Allowed(kind.Shape()), ", "))
	if kind.Rememberable() {
		b.WriteString(" (prefix R to remember for this application, RC for its codebase)")
	}
	b.WriteString(", or exit:")
	return b.String()
}
