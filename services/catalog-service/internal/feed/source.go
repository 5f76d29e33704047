// Package feed читает фиды поставщиков и разбирает их в строгие структуры по записям.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat поддерживается только JSON
	ErrUnsupportedFormat = errors.New("unsupported feed format")
	// ErrFeedTooLarge фид превышает допустимый размер
	ErrFeedTooLarge = errors.New("feed is too large")
)

// FormatJSON единственный реализованный формат
const FormatJSON = "json"

// RawFeed содержимое фида и его формат
type RawFeed struct {
	Filename string
	Format   string
	Data     []byte
}

// Source источник фида
type Source interface {
	Fetch(ctx context.Context) (*RawFeed, error)
}

// DetectFormat определяет формат по расширению файла
func DetectFormat(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".json" {
		return FormatJSON, nil
	}
	if ext == "" {
		ext = "(без расширения)"
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}

// BytesSource фид, уже загруженный в память (например, из HTTP-запроса)
type BytesSource struct {
	Filename string
	Data     []byte
}

func (s BytesSource) Fetch(ctx context.Context) (*RawFeed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format, err := DetectFormat(s.Filename)
	if err != nil {
		return nil, err
	}
	return &RawFeed{Filename: filepath.Base(s.Filename), Format: format, Data: s.Data}, nil
}

// FileSource фид из файла на диске. MaxSize <= 0 снимает ограничение.
type FileSource struct {
	Path    string
	MaxSize int64
}

func (s FileSource) Fetch(ctx context.Context) (*RawFeed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format, err := DetectFormat(s.Path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия фида: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if s.MaxSize > 0 {
		r = io.LimitReader(f, s.MaxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения фида: %w", err)
	}
	if s.MaxSize > 0 && int64(len(data)) > s.MaxSize {
		return nil, fmt.Errorf("%w: больше %d байт", ErrFeedTooLarge, s.MaxSize)
	}

	return &RawFeed{Filename: filepath.Base(s.Path), Format: format, Data: data}, nil
}
