package command

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
)

var (
	// ErrUnknownCommand is returned by ReadCommand for a word that names no command. The word has
	// been consumed, so the caller can keep reading.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrSyntax is returned by ReadCommand when a command's arguments are missing or malformed
	ErrSyntax = errors.New("syntax error")
)

// Scanner splits a simulator script into commands. Words are separated by any amount of
// whitespace, including newlines, and WRITE payloads are double-quoted strings that may contain
// whitespace.
type Scanner struct {
	reader *bufio.Reader
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{reader: bufio.NewReader(r)}
}

func (s *Scanner) skipSpace() error {
	for {
		r, _, err := s.reader.ReadRune()
		if err != nil {
			return err
		}

		if !unicode.IsSpace(r) {
			return s.reader.UnreadRune()
		}
	}
}

// Word returns the next whitespace-separated word, or io.EOF once the input is exhausted
func (s *Scanner) Word() (string, error) {
	err := s.skipSpace()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for {
		r, _, err := s.reader.ReadRune()
		if err == io.EOF {
			break
		} else if err != nil {
			return "", err
		}

		if unicode.IsSpace(r) {
			break
		}
		sb.WriteRune(r)
	}

	return sb.String(), nil
}

// Quoted returns the contents of the next double-quoted string. Anything before the opening quote
// is discarded. There are no escape sequences.
func (s *Scanner) Quoted() (string, error) {
	_, err := s.reader.ReadString('"')
	if err == io.EOF {
		return "", errors.Wrap(io.ErrUnexpectedEOF, "missing opening quote")
	} else if err != nil {
		return "", err
	}

	text, err := s.reader.ReadString('"')
	if err == io.EOF {
		return "", errors.Wrap(io.ErrUnexpectedEOF, "unterminated string")
	} else if err != nil {
		return "", err
	}

	return strings.TrimSuffix(text, `"`), nil
}

func (s *Scanner) argument(op Op, name string) (string, error) {
	word, err := s.Word()
	if err == io.EOF {
		return "", errors.Wrapf(ErrSyntax, "%s: missing %s", op, name)
	}
	return word, err
}

// Address arguments are hexadecimal with an optional 0x prefix.
func (s *Scanner) address(op Op, name string) (int, error) {
	word, err := s.argument(op, name)
	if err != nil {
		return 0, err
	}

	digits := strings.TrimPrefix(strings.TrimPrefix(word, "0x"), "0X")
	value, err := strconv.ParseInt(digits, 16, 64)
	if err != nil || value < 0 {
		return 0, errors.Wrapf(ErrSyntax, "%s: %s %q is not a hexadecimal address", op, name, word)
	}

	return int(value), nil
}

func (s *Scanner) size(op Op, name string) (int, error) {
	word, err := s.argument(op, name)
	if err != nil {
		return 0, err
	}

	value, err := strconv.ParseInt(word, 10, 64)
	if err != nil || value < 0 {
		return 0, errors.Wrapf(ErrSyntax, "%s: %s %q is not a non-negative integer", op, name, word)
	}

	return int(value), nil
}

// ReadCommand reads one command and its arguments. It returns io.EOF when the input ends between
// commands, ErrUnknownCommand for an unrecognized command word, and ErrSyntax when arguments are
// malformed.
func (s *Scanner) ReadCommand() (Command, error) {
	word, err := s.Word()
	if err != nil {
		return Command{}, err
	}

	op, ok := ParseOp(word)
	if !ok {
		return Command{}, errors.Wrapf(ErrUnknownCommand, "%q", word)
	}

	cmd := Command{Op: op}
	switch op {
	case OpInitHeap:
		if cmd.Address, err = s.address(op, "base address"); err != nil {
			return cmd, err
		}
		if cmd.Partitions, err = s.size(op, "list count"); err != nil {
			return cmd, err
		}
		if cmd.BytesPerPartition, err = s.size(op, "bytes per list"); err != nil {
			return cmd, err
		}

		var flag int
		if flag, err = s.size(op, "reconstruction flag"); err != nil {
			return cmd, err
		}
		cmd.Coalesce = flag != 0
	case OpMalloc:
		cmd.Size, err = s.size(op, "size")
	case OpFree:
		cmd.Address, err = s.address(op, "address")
	case OpRead:
		if cmd.Address, err = s.address(op, "address"); err != nil {
			return cmd, err
		}
		cmd.Size, err = s.size(op, "size")
	case OpWrite:
		if cmd.Address, err = s.address(op, "address"); err != nil {
			return cmd, err
		}

		var payload string
		if payload, err = s.Quoted(); err != nil {
			return cmd, errors.Wrapf(err, "%s: payload", op)
		}
		cmd.Payload = []byte(payload)

		cmd.Size, err = s.size(op, "size")
	}

	return cmd, err
}
