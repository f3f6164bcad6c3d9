package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ReadCSV parses a CSV document with a header row
func ReadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var rows [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, rec)
	}

	return NewFrame(header, rows)
}

// WriteCSV writes the frame with a header row
func WriteCSV(w io.Writer, f *Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Columns()); err != nil {
		return err
	}
	for i := 0; i < f.Len(); i++ {
		if err := cw.Write(f.Row(i)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadFile loads a CSV file from disk
func ReadFile(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	f, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// WriteFile writes the frame to path, creating parent directories
func WriteFile(path string, f *Frame) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(file, f); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

// Fetcher loads the source dataset from an HTTP(S) URL or a local path
type Fetcher struct {
	Client *http.Client
}

// NewFetcher creates a fetcher with a bounded HTTP timeout
func NewFetcher() *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: 2 * time.Minute}}
}

// Fetch reads the dataset at source
func (ft *Fetcher) Fetch(ctx context.Context, source string) (*Frame, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		return ReadFile(source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := ft.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dataset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch dataset: %s returned %s", source, resp.Status)
	}
	return ReadCSV(resp.Body)
}
