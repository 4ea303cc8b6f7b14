package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

var (
	mu           sync.RWMutex
	currentLevel = INFO
	sink         = &fileSink{}
)

// fileSink is the optional JSON log file with size/age based rotation.
type fileSink struct {
	mu          sync.Mutex
	file        *os.File
	path        string
	rotate      bool
	maxSize     int64
	maxAgeDays  int
	size        int64
	lastRotated time.Time
}

type entry struct {
	Level     string                 `json:"level"`
	Timestamp string                 `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

func ParseLevel(name string) Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// EnableFile starts mirroring log entries as JSON lines to path.
func EnableFile(path string, rotate bool, maxSizeMB, maxAgeDays int) error {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.file != nil {
		sink.file.Close()
	}
	sink.file = f
	sink.path = path
	sink.rotate = rotate
	sink.maxSize = int64(maxSizeMB) * 1024 * 1024
	sink.maxAgeDays = maxAgeDays
	sink.size = size
	sink.lastRotated = time.Now()
	return nil
}

func DisableFile() {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.file != nil {
		sink.file.Close()
		sink.file = nil
	}
}

func (s *fileSink) write(e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	if s.shouldRotate() {
		if err := s.rotateLocked(); err != nil {
			log.Printf("log rotation failed: %v", err)
		}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	n, err := s.file.WriteString(string(data) + "\n")
	if err == nil {
		s.size += int64(n)
	}
}

func (s *fileSink) shouldRotate() bool {
	if !s.rotate {
		return false
	}
	if s.maxSize > 0 && s.size >= s.maxSize {
		return true
	}
	if s.maxAgeDays > 0 {
		now := time.Now()
		if now.YearDay() != s.lastRotated.YearDay() || now.Year() != s.lastRotated.Year() {
			return true
		}
	}
	return false
}

func (s *fileSink) rotateLocked() error {
	s.file.Close()
	rotated := fmt.Sprintf("%s.%s", s.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(s.path, rotated); err != nil {
		if f, openErr := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); openErr == nil {
			s.file = f
		}
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	s.file = f
	s.size = 0
	s.lastRotated = time.Now()
	go s.cleanOld()
	return nil
}

func (s *fileSink) cleanOld() {
	if s.maxAgeDays <= 0 {
		return
	}
	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)
	cutoff := time.Now().AddDate(0, 0, -s.maxAgeDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, de := range entries {
		if de.IsDir() || !strings.HasPrefix(de.Name(), base+".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, de.Name()))
		}
	}
}

func emit(level Level, component, message string, fields map[string]interface{}) {
	mu.RLock()
	min := currentLevel
	mu.RUnlock()
	if level < min {
		return
	}

	e := entry{
		Level:     levelNames[level],
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Component: component,
		Message:   message,
		Fields:    fields,
	}
	sink.write(e)

	var fieldStr string
	if len(fields) > 0 {
		parts := make([]string, 0, len(fields))
		for k, v := range fields {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		fieldStr = " {" + strings.Join(parts, ", ") + "}"
	}
	comp := ""
	if component != "" {
		comp = " " + component + ":"
	}
	log.Printf("[%s] [%s]%s %s%s", e.Timestamp, e.Level, comp, message, fieldStr)

	if level == FATAL {
		os.Exit(1)
	}
}

func Debug(message string)     { emit(DEBUG, "", message, nil) }
func DebugC(c, message string) { emit(DEBUG, c, message, nil) }
func Info(message string)      { emit(INFO, "", message, nil) }
func InfoC(c, message string)  { emit(INFO, c, message, nil) }
func Warn(message string)      { emit(WARN, "", message, nil) }
func WarnC(c, message string)  { emit(WARN, c, message, nil) }
func Error(message string)     { emit(ERROR, "", message, nil) }
func ErrorC(c, message string) { emit(ERROR, c, message, nil) }
func Fatal(message string)     { emit(FATAL, "", message, nil) }
func FatalC(c, message string) { emit(FATAL, c, message, nil) }

func DebugCF(c, message string, fields map[string]interface{}) { emit(DEBUG, c, message, fields) }
func InfoCF(c, message string, fields map[string]interface{})  { emit(INFO, c, message, fields) }
func WarnCF(c, message string, fields map[string]interface{})  { emit(WARN, c, message, fields) }
func ErrorCF(c, message string, fields map[string]interface{}) { emit(ERROR, c, message, fields) }
func FatalCF(c, message string, fields map[string]interface{}) { emit(FATAL, c, message, fields) }
