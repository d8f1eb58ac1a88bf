package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineBytes bounds a single NDJSON line.
const maxLineBytes = 4 * 1024 * 1024

// Filter, Transform et al., taken from:
// https://betterprogramming.pub/writing-a-stream-api-in-go-afbc3c4350e2

// NDJSON decodes one JSON value per line of in. Blank lines are skipped.
// Lines that fail to decode are reported on errs, if not nil, and skipped.
// Decoding stops at EOF, at a read error (also reported) or when ctx is done.
func NDJSON[T any](ctx context.Context, in io.Reader, errs chan<- error) <-chan T {
	out := make(chan T)
	report := func(err error) bool {
		if errs == nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case errs <- err:
			return true
		}
	}
	go func() {
		defer close(out)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		line := 0
		for sc.Scan() {
			line++
			data := bytes.TrimSpace(sc.Bytes())
			if len(data) == 0 {
				continue
			}
			var element T
			if err := json.Unmarshal(data, &element); err != nil {
				if !report(fmt.Errorf("line %d: %w", line, err)) {
					return
				}
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- element:
			}
		}
		if err := sc.Err(); err != nil {
			report(err)
		}
	}()
	return out
}

func Filter[T any](ctx context.Context, predicate func(T) bool, in <-chan T) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for element := range in {
			if predicate(element) {
				select {
				case <-ctx.Done():
					return
				case out <- element:
				}
			}
		}
	}()
	return out
}

func Transform[I any, O any](ctx context.Context, transformer func(I) O, in <-chan I) <-chan O {
	out := make(chan O)
	go func() {
		defer close(out)
		for element := range in {
			select {
			case <-ctx.Done():
				return
			case out <- transformer(element):
			}
		}
	}()
	return out
}

// Batch groups elements into slices of size, flushing the remainder when in closes.
func Batch[T any](ctx context.Context, size int, in <-chan T) <-chan []T {
	if size < 1 {
		size = 1
	}
	out := make(chan []T)
	go func() {
		defer close(out)
		batch := make([]T, 0, size)
		for element := range in {
			batch = append(batch, element)
			if len(batch) < size {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- batch:
			}
			batch = make([]T, 0, size)
		}
		if len(batch) > 0 {
			select {
			case <-ctx.Done():
			case out <- batch:
			}
		}
	}()
	return out
}
