package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"bountyScope/internal/model"
)

// JsonlStorage appends indexed events to a JSONL file, one line per event ID.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
	ids  map[string]struct{}
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

// UpsertEvents appends the events whose IDs are not in the file yet.
func (s *JsonlStorage) UpsertEvents(ctx context.Context, events []model.IndexedEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadIDs(); err != nil {
		return 0, err
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	written := make([]string, 0, len(events))
	for _, event := range events {
		if _, ok := s.ids[event.ID]; ok {
			continue
		}
		line, err := json.Marshal(event)
		if err != nil {
			return 0, fmt.Errorf("marshal event: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return 0, fmt.Errorf("write event: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return 0, fmt.Errorf("write newline: %w", err)
		}
		written = append(written, event.ID)
	}

	if err := writer.Flush(); err != nil {
		return 0, fmt.Errorf("flush output: %w", err)
	}
	for _, id := range written {
		s.ids[id] = struct{}{}
	}
	return len(written), nil
}

// LoadEvents reads the file back, keeping the first line seen per ID.
func (s *JsonlStorage) LoadEvents(ctx context.Context) ([]model.IndexedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ReadEvents(s.path)
}

func (s *JsonlStorage) loadIDs() error {
	if s.ids != nil {
		return nil
	}
	events, err := ReadEvents(s.path)
	if err != nil {
		return err
	}
	s.ids = make(map[string]struct{}, len(events))
	for _, event := range events {
		s.ids[event.ID] = struct{}{}
	}
	return nil
}

// ReadEvents loads a JSONL file of indexed events in chain log order. A
// missing file holds no events.
func ReadEvents(path string) ([]model.IndexedEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open events: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	seen := make(map[string]struct{})
	var events []model.IndexedEvent
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event model.IndexedEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("parse events line %d: %w", lineNo, err)
		}
		if _, ok := seen[event.ID]; ok {
			continue
		}
		seen[event.ID] = struct{}{}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}

	SortEvents(events)
	return events, nil
}

// JsonlErrorSink appends decode failures to a JSONL file.
type JsonlErrorSink struct {
	path string
	mu   sync.Mutex
}

func NewJsonlErrorSink(path string) *JsonlErrorSink {
	return &JsonlErrorSink{path: path}
}

func (s *JsonlErrorSink) PutDecodeErrors(records []model.DecodeError) error {
	if len(records) == 0 || s.path == "" {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create errors dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open errors file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal decode error: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write decode error: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}
	return writer.Flush()
}
