package command

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/vkngwrapper/sflsim/heap"
	"github.com/vkngwrapper/sflsim/memutils"
	"golang.org/x/exp/slog"
)

const (
	outOfMemoryMessage       = "Out of memory"
	invalidFreeMessage       = "Invalid free"
	segmentationFaultMessage = "Segmentation fault (core dumped)"
)

// DumpFormat selects the layout DUMP_MEMORY writes
type DumpFormat string

const (
	DumpText DumpFormat = "text"
	DumpJSON DumpFormat = "json"
)

// Options configures a Dispatcher
type Options struct {
	DumpFormat DumpFormat
	// Color highlights error messages in red
	Color bool
	// Validate checks every heap invariant after each command and logs any violation
	Validate bool
}

// Dispatcher executes simulator commands one at a time against a single heap, writing command
// output to out and diagnostics to its logger.
type Dispatcher struct {
	logger  *slog.Logger
	out     io.Writer
	options Options

	heap     *heap.Heap
	errColor *color.Color
}

func NewDispatcher(logger *slog.Logger, out io.Writer, options Options) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if options.DumpFormat == "" {
		options.DumpFormat = DumpText
	}

	errColor := color.New(color.FgRed)
	if options.Color {
		errColor.EnableColor()
	} else {
		errColor.DisableColor()
	}

	return &Dispatcher{
		logger:   logger,
		out:      out,
		options:  options,
		errColor: errColor,
	}
}

// Heap returns the live heap, or nil before INIT_HEAP and after the heap is torn down
func (d *Dispatcher) Heap() *heap.Heap {
	return d.heap
}

// Run reads and executes commands from in until DESTROY_HEAP, the end of input, or a segmentation
// fault. The end of input tears down a live heap the same way DESTROY_HEAP does. A segmentation
// fault dumps and destroys the heap, then returns an error matching memutils.ErrSegmentationFault.
// Unknown and malformed commands are logged and skipped.
func (d *Dispatcher) Run(ctx context.Context, in io.Reader) error {
	scanner := NewScanner(in)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		cmd, err := scanner.ReadCommand()
		switch {
		case err == io.EOF:
			d.logger.LogAttrs(ctx, slog.LevelDebug, "Dispatcher::Run end of input")
			return d.destroy()
		case errors.Is(err, io.ErrUnexpectedEOF):
			d.logger.LogAttrs(ctx, slog.LevelWarn, "input ends inside a command", slog.Any("error", err))
			return d.destroy()
		case errors.Is(err, ErrUnknownCommand), errors.Is(err, ErrSyntax):
			d.logger.LogAttrs(ctx, slog.LevelWarn, "skipping command", slog.Any("error", err))
			continue
		case err != nil:
			return errors.Wrap(err, "failed to read command")
		}

		done, err := d.Execute(ctx, cmd)
		if err != nil || done {
			return err
		}
	}
}

// Execute runs a single command. It reports true once the command loop should stop, which happens
// after DESTROY_HEAP and after a segmentation fault. Only a segmentation fault or an output failure
// produces an error; recoverable conditions are reported on the output or the log.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command) (bool, error) {
	d.logger.LogAttrs(ctx, slog.LevelDebug, "Dispatcher::Execute", slog.String("Command", cmd.Op.String()))

	if cmd.Op == OpDestroyHeap {
		return true, d.destroy()
	}

	if cmd.Op == OpInitHeap {
		return false, d.initHeap(ctx, cmd)
	}

	if d.heap == nil {
		d.logger.LogAttrs(ctx, slog.LevelError, "command ignored",
			slog.String("Command", cmd.Op.String()),
			slog.Any("error", memutils.ErrHeapNotInitialized),
		)
		return false, nil
	}

	var err error
	switch cmd.Op {
	case OpMalloc:
		err = d.malloc(ctx, cmd)
	case OpFree:
		err = d.free(ctx, cmd)
	case OpRead:
		err = d.read(cmd)
	case OpWrite:
		err = d.write(cmd)
	case OpDumpMemory:
		err = d.dump()
	default:
		panic(fmt.Sprintf("unhandled command %s", cmd.Op))
	}

	if errors.Is(err, memutils.ErrSegmentationFault) {
		return true, d.fault(err)
	}
	if err != nil {
		return false, err
	}

	if d.options.Validate {
		if err := d.heap.Validate(); err != nil {
			d.logger.LogAttrs(ctx, slog.LevelError, "heap validation failed",
				slog.String("Command", cmd.Op.String()),
				slog.Any("error", err),
			)
		}
	}

	return false, nil
}

func (d *Dispatcher) initHeap(ctx context.Context, cmd Command) error {
	if d.heap != nil {
		d.logger.LogAttrs(ctx, slog.LevelError, "INIT_HEAP ignored, a heap already exists",
			slog.String("BaseAddress", fmt.Sprintf("0x%x", d.heap.BaseAddress())),
		)
		return nil
	}

	h, err := heap.New(d.logger, heap.CreateOptions{
		BaseAddress:       cmd.Address,
		Partitions:        cmd.Partitions,
		BytesPerPartition: cmd.BytesPerPartition,
		Coalesce:          cmd.Coalesce,
	})
	if err != nil {
		d.logger.LogAttrs(ctx, slog.LevelError, "INIT_HEAP failed", slog.Any("error", err))
		return nil
	}

	d.heap = h
	return nil
}

func (d *Dispatcher) malloc(ctx context.Context, cmd Command) error {
	_, err := d.heap.Malloc(cmd.Size)
	if errors.Is(err, memutils.ErrOutOfMemory) {
		return d.printError(outOfMemoryMessage)
	}
	if err != nil {
		d.logger.LogAttrs(ctx, slog.LevelError, "MALLOC failed", slog.Any("error", err))
	}
	return nil
}

func (d *Dispatcher) free(ctx context.Context, cmd Command) error {
	err := d.heap.Free(cmd.Address)
	if errors.Is(err, memutils.ErrInvalidFree) {
		return d.printError(invalidFreeMessage)
	}
	if err != nil {
		d.logger.LogAttrs(ctx, slog.LevelError, "FREE failed", slog.Any("error", err))
	}
	return nil
}

func (d *Dispatcher) read(cmd Command) error {
	data, err := d.heap.Read(cmd.Address, cmd.Size)
	if err != nil {
		return err
	}

	// Output stops at the first NUL, as a C string would
	if end := bytes.IndexByte(data, 0); end >= 0 {
		data = data[:end]
	}

	_, err = fmt.Fprintf(d.out, "%s\n", data)
	return err
}

func (d *Dispatcher) write(cmd Command) error {
	_, err := d.heap.Write(cmd.Address, cmd.Size, cmd.Payload)
	return err
}

func (d *Dispatcher) dump() error {
	report := d.heap.Report()
	if d.options.DumpFormat == DumpJSON {
		return heap.WriteJSON(d.out, report)
	}

	return heap.WriteText(d.out, report)
}

// fault reports a segmentation fault, dumps the heap, and tears it down. The returned error always
// matches memutils.ErrSegmentationFault.
func (d *Dispatcher) fault(cause error) error {
	d.logger.LogAttrs(context.Background(), slog.LevelError, "segmentation fault", slog.Any("error", cause))

	if err := d.printError(segmentationFaultMessage); err != nil {
		return errors.CombineErrors(cause, err)
	}
	if err := d.dump(); err != nil {
		return errors.CombineErrors(cause, err)
	}
	if err := d.destroy(); err != nil {
		return errors.CombineErrors(cause, err)
	}

	return cause
}

func (d *Dispatcher) destroy() error {
	if d.heap == nil {
		return nil
	}

	h := d.heap
	d.heap = nil
	return h.Destroy()
}

func (d *Dispatcher) printError(message string) error {
	_, err := fmt.Fprintln(d.out, d.errColor.Sprint(message))
	return err
}
