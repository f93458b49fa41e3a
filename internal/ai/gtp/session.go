package gtp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/park285/goban-arena/internal/board"
)

const defaultReadyTimeout = 4 * time.Second

// GNU Go plays levels 0-10 and starts at 10. Level 0 in a request means
// the engine default.
const (
	maxLevel     = 10
	defaultLevel = 10
)

// ErrEngine is returned when the engine answers a command with '?'.
var ErrEngine = errors.New("gtp engine error")

// Session is one running GTP engine process.
type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
	search sync.Mutex
	level  int
}

func NewSession(ctx context.Context, binaryPath string, args []string) (*Session, error) {
	// 프로세스 수명은 요청 ctx와 분리 (풀에서 재사용)
	cmd := exec.Command(binaryPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := &Session{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdoutPipe),
		level:  defaultLevel,
	}
	if err := s.EnsureReady(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// GenMove loads the position and asks for a move for toPlay.
func (s *Session) GenMove(ctx context.Context, b *board.Board, toPlay board.Stone, komi float64) (board.Point, bool, bool, error) {
	s.search.Lock()
	defer s.search.Unlock()

	size := b.Size()
	cmds := []string{
		"boardsize " + strconv.Itoa(size),
		"clear_board",
		"komi " + strconv.FormatFloat(komi, 'f', 1, 64),
	}
	for _, c := range []board.Stone{board.Black, board.White} {
		for _, p := range b.Stones(c) {
			cmds = append(cmds, "play "+colorName(c)+" "+Vertex(p, size))
		}
	}
	for _, c := range cmds {
		if _, err := s.exec(ctx, c); err != nil {
			return board.Point{}, false, false, fmt.Errorf("%s: %w", c, err)
		}
	}
	reply, err := s.exec(ctx, "genmove "+colorName(toPlay))
	if err != nil {
		return board.Point{}, false, false, fmt.Errorf("genmove: %w", err)
	}
	return ParseVertex(reply, size)
}

// EnsureReady checks the process still answers.
func (s *Session) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()
	if _, err := s.exec(readyCtx, "protocol_version"); err != nil {
		return fmt.Errorf("wait protocol_version: %w", err)
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdin != nil {
		_, _ = io.WriteString(s.stdin, "quit\n")
		s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	if s.cmd != nil {
		return s.cmd.Wait()
	}
	return nil
}

// SetLevel switches the playing strength, skipping the command when the
// process already plays at level.
func (s *Session) SetLevel(ctx context.Context, level int) error {
	if level == 0 {
		level = defaultLevel
	}
	if level == s.level {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()
	// level은 GNU Go 확장 명령; 지원하지 않는 엔진은 무시
	if _, err := s.exec(lctx, "level "+strconv.Itoa(level)); err != nil && !errors.Is(err, ErrEngine) {
		return err
	}
	s.level = level
	return nil
}

// exec sends one command and returns the payload of its response.
func (s *Session) exec(ctx context.Context, command string) (string, error) {
	if err := s.send(command + "\n"); err != nil {
		return "", fmt.Errorf("send %q: %w", command, err)
	}
	var lines []string
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return "", err
		}
		if line == "" {
			if len(lines) == 0 {
				continue
			}
			break
		}
		lines = append(lines, line)
	}
	return parseResponse(lines)
}

// parseResponse decodes "= payload" / "? message" replies.
func parseResponse(lines []string) (string, error) {
	if len(lines) == 0 {
		return "", fmt.Errorf("empty response")
	}
	head := lines[0]
	if head == "" || (head[0] != '=' && head[0] != '?') {
		return "", fmt.Errorf("malformed response %q", head)
	}
	first := strings.TrimSpace(strings.TrimLeft(head[1:], "0123456789"))
	body := append([]string{first}, lines[1:]...)
	payload := strings.TrimSpace(strings.Join(body, "\n"))
	if head[0] == '?' {
		return "", fmt.Errorf("%w: %s", ErrEngine, payload)
	}
	return payload, nil
}

func (s *Session) send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.stdin, msg)
	return err
}

func (s *Session) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		line, err := s.stdout.ReadString('\n')
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.line, res.err
	}
}
