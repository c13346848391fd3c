package decode

import (
	"bytes"
	"context"
	"fmt"
	"unicode/utf8"
)

// memory is the linear memory view the call convention needs. wazero's
// api.Memory satisfies it.
type memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
	Size() uint32
}

// instance is a loaded module.
type instance interface {
	Call(ctx context.Context, name string, params ...uint64) ([]uint64, error)
	Memory() memory
	Close(ctx context.Context) error
}

func call1(ctx context.Context, inst instance, name string, params ...uint64) (uint64, error) {
	res, err := inst.Call(ctx, name, params...)
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", name, err)
	}
	if len(res) == 0 {
		return 0, fmt.Errorf("call %s: no return value", name)
	}
	return res[0], nil
}

// withScratch saves the module stack pointer, runs fn and restores the pointer on
// every exit path, including errors and traps inside fn.
func withScratch(ctx context.Context, inst instance, ex Exports, fn func() error) (err error) {
	sp, err := call1(ctx, inst, ex.StackSave)
	if err != nil {
		return err
	}
	defer func() {
		// Restore even when ctx is already done.
		if _, rerr := inst.Call(context.WithoutCancel(ctx), ex.StackRestore, sp); rerr != nil && err == nil {
			err = fmt.Errorf("call %s: %w", ex.StackRestore, rerr)
		}
	}()
	return fn()
}

// callString passes arg as a NUL-terminated UTF-8 string on the module stack to
// export fn and reads its NUL-terminated return string. The returned pointer is
// released with the module's free export.
func callString(ctx context.Context, inst instance, ex Exports, fn, arg string) (string, error) {
	var out string
	err := withScratch(ctx, inst, ex, func() (err error) {
		size := uint64(utf8.RuneCountInString(arg))*4 + 1
		ptr, err := call1(ctx, inst, ex.StackAlloc, size)
		if err != nil {
			return err
		}
		mem := inst.Memory()
		buf := make([]byte, len(arg)+1)
		copy(buf, arg)
		if !mem.Write(uint32(ptr), buf) {
			return fmt.Errorf("write argument: offset %d out of range", ptr)
		}

		ret, err := call1(ctx, inst, fn, ptr)
		if err != nil {
			return err
		}
		if ret == 0 {
			return ErrNoResult
		}
		defer func() {
			if _, ferr := inst.Call(context.WithoutCancel(ctx), ex.FreeStr, ret); ferr != nil && err == nil {
				err = fmt.Errorf("call %s: %w", ex.FreeStr, ferr)
			}
		}()

		s, err := readCString(mem, uint32(ret))
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

const cstringChunk = 256

func readCString(mem memory, ptr uint32) (string, error) {
	var buf []byte
	limit := mem.Size()
	for off := ptr; off < limit; {
		n := uint32(cstringChunk)
		if limit-off < n {
			n = limit - off
		}
		chunk, ok := mem.Read(off, n)
		if !ok {
			return "", fmt.Errorf("read result: offset %d out of range", off)
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			buf = append(buf, chunk[:i]...)
			return string(buf), nil
		}
		buf = append(buf, chunk...)
		off += n
	}
	return "", fmt.Errorf("read result: unterminated string at %d", ptr)
}
