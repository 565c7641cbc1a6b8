// Package trace parses and replays allocation trace scripts.
//
// A trace is a line-oriented text file:
//
//	# comments and blank lines are ignored
//	alloc 100 as input     # reserve, remember offset as "input"
//	alloc 4k as weights
//	write @weights 4096    # fill with a byte pattern
//	read @weights 16
//	free @input            # lenient free
//	release 0x1000         # strict free by raw offset
//
// Sizes accept decimal, 0x-prefixed hex, and k/m/g (binary) suffixes.
// Input may be UTF-8 or BOM-marked UTF-16.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Kind is a trace operation type.
type Kind int

const (
	OpAlloc Kind = iota + 1
	OpFree
	OpRelease
	OpWrite
	OpRead
)

var kindNames = map[Kind]string{
	OpAlloc:   "alloc",
	OpFree:    "free",
	OpRelease: "release",
	OpWrite:   "write",
	OpRead:    "read",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Op is one parsed trace line.
type Op struct {
	Kind Kind
	Line int // 1-based source line

	Size   uint64 // alloc size, or write/read byte count
	Offset uint64 // target offset when Ref is empty
	Ref    string // target label for free/release/write/read
	Label  string // name bound by "alloc ... as <label>"
}

// String renders the op in trace syntax.
func (o Op) String() string {
	target := "0x" + strconv.FormatUint(o.Offset, 16)
	if o.Ref != "" {
		target = LabelPrefix + o.Ref
	}
	switch o.Kind {
	case OpAlloc:
		if o.Label != "" {
			return fmt.Sprintf("alloc %d as %s", o.Size, o.Label)
		}
		return fmt.Sprintf("alloc %d", o.Size)
	case OpFree, OpRelease:
		return o.Kind.String() + " " + target
	case OpWrite, OpRead:
		return fmt.Sprintf("%s %s %d", o.Kind, target, o.Size)
	}
	return "unknown"
}

// ParseError reports a malformed trace line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("trace: line %d: %s", e.Line, e.Msg)
}

// Parse reads a trace script.
func Parse(r io.Reader) ([]Op, error) {
	// UTF-8 passes through; a UTF-16 BOM switches the decoder.
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	scanner := bufio.NewScanner(decoded)
	scanner.Buffer(make([]byte, 0, ScannerInitialBufferSize), ScannerMaxLineSize)

	var ops []Op
	labels := make(map[string]int)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.Index(line, CommentPrefix); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		op, err := parseLine(fields)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Msg: err.Error()}
		}
		op.Line = lineNo

		if op.Label != "" {
			if prev, ok := labels[op.Label]; ok {
				return nil, &ParseError{Line: lineNo,
					Msg: fmt.Sprintf("label %q already bound on line %d", op.Label, prev)}
			}
			labels[op.Label] = lineNo
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("trace: read: %w", err)
	}
	return ops, nil
}

func parseLine(fields []string) (Op, error) {
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "alloc":
		if len(args) != 1 && !(len(args) == 3 && strings.EqualFold(args[1], AsKeyword)) {
			return Op{}, errors.New("usage: alloc <size> [as <label>]")
		}
		size, err := ParseSize(args[0])
		if err != nil {
			return Op{}, err
		}
		op := Op{Kind: OpAlloc, Size: size}
		if len(args) == 3 {
			if strings.HasPrefix(args[2], LabelPrefix) {
				return Op{}, fmt.Errorf("label %q must not start with %s", args[2], LabelPrefix)
			}
			op.Label = args[2]
		}
		return op, nil

	case "free", "release":
		if len(args) != 1 {
			return Op{}, fmt.Errorf("usage: %s <offset|@label>", verb)
		}
		op := Op{Kind: OpFree}
		if verb == "release" {
			op.Kind = OpRelease
		}
		return op, parseTarget(args[0], &op)

	case "write", "read":
		if len(args) != 2 {
			return Op{}, fmt.Errorf("usage: %s <offset|@label> <nbytes>", verb)
		}
		op := Op{Kind: OpWrite}
		if verb == "read" {
			op.Kind = OpRead
		}
		if err := parseTarget(args[0], &op); err != nil {
			return Op{}, err
		}
		n, err := ParseSize(args[1])
		if err != nil {
			return Op{}, err
		}
		if n > MaxTransferSize {
			return Op{}, fmt.Errorf("transfer of %d bytes exceeds limit %d", n, MaxTransferSize)
		}
		op.Size = n
		return op, nil
	}
	return Op{}, fmt.Errorf("unknown operation %q", fields[0])
}

func parseTarget(s string, op *Op) error {
	if ref, ok := strings.CutPrefix(s, LabelPrefix); ok {
		if ref == "" {
			return errors.New("empty label reference")
		}
		op.Ref = ref
		return nil
	}
	off, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("bad offset %q", s)
	}
	op.Offset = off
	return nil
}

// ParseSize parses a byte count: "100", "0x80", "4k", "1M", "2g".
func ParseSize(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("empty size")
	}

	mult := uint64(1)
	num := s
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1 << 10
	case 'm', 'M':
		mult = 1 << 20
	case 'g', 'G':
		mult = 1 << 30
	}
	if mult != 1 {
		num = s[:len(s)-1]
	}

	n, err := strconv.ParseUint(num, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad size %q", s)
	}
	if n > math.MaxUint64/mult {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return n * mult, nil
}
