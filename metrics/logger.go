package metrics

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Logger interface {
	Log(info *MetricsInfo)
}

// ZapLogger writes metrics as a structured log entry.
type ZapLogger struct {
	log *zap.Logger
}

func NewZapLogger(log *zap.Logger) *ZapLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapLogger{log: log.Named("metrics")}
}

func (l *ZapLogger) Log(info *MetricsInfo) {
	l.log.Info("request completed",
		zap.String("request_id", info.RequestID),
		zap.String("mode", info.Mode),
		zap.String("product", info.Product),
		zap.Duration("duration", info.ReqDuration),
		zap.Int("scenes_considered", info.Scenes.Considered),
		zap.Int("scenes_fetched", info.Scenes.Fetched),
		zap.Int("scenes_used", info.Scenes.Used),
		zap.Int("bands_fetched", info.Fetch.BandsFetched),
		zap.Int64("bytes_read", info.Fetch.BytesRead),
		zap.Int("fetch_errors", info.Fetch.Errors),
		zap.Bool("fully_populated", info.FullyPopulated),
		zap.Int("unobserved_pixels", info.Unobserved),
		zap.String("error", info.Error),
	)
}

const defaultQueueSize = 2000
const defaultLogWriters = 2
const defaultMaxLogFileSize = 1024 * 1024 * 1024
const defaultMaxLogFiles = 10

// FileLogger appends one JSON document per request to log files in LogDir.
// Every writer owns a file logN which is rotated to logN.M once it grows
// past MaxLogFileSize. At most MaxLogFiles rotated files are kept per writer.
type FileLogger struct {
	MetricsQueue   chan *MetricsInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int

	log *zap.Logger
	wg  sync.WaitGroup
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, log *zap.Logger) *FileLogger {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	if log == nil {
		log = zap.NewNop()
	}
	logger := &FileLogger{
		MetricsQueue:   make(chan *MetricsInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		log:            log.Named("metrics"),
	}

	for i := 0; i < defaultLogWriters; i++ {
		logger.wg.Add(1)
		go logger.startLogWriter(i)
	}

	return logger
}

func (l *FileLogger) Log(info *MetricsInfo) {
	l.MetricsQueue <- info
}

// Close drains the queue and waits for the writers to exit.
func (l *FileLogger) Close() {
	close(l.MetricsQueue)
	l.wg.Wait()
}

func (l *FileLogger) startLogWriter(idx int) {
	defer l.wg.Done()

	f, err := l.openLogFile(idx)
	if err != nil {
		l.log.Error("log open error", zap.Int("writer", idx), zap.Error(err))
	}
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			l.log.Error("metrics encoding error", zap.Int("writer", idx), zap.Error(err))
			continue
		}
		if f == nil {
			if f, err = l.openLogFile(idx); err != nil {
				continue
			}
		}

		f, err = l.tryRotateLogFile(f, idx)
		if err != nil {
			continue
		}

		if _, err := f.WriteString(infoStr); err != nil {
			l.log.Error("write error", zap.Int("writer", idx), zap.Error(err))
			continue
		}
		f.Sync()
	}
}

func (l *FileLogger) openLogFile(idx int) (*os.File, error) {
	logFilePath := path.Join(l.LogDir, fmt.Sprintf("log%d", idx))
	return os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (l *FileLogger) tryRotateLogFile(currFile *os.File, idx int) (*os.File, error) {
	info, err := currFile.Stat()
	if err != nil {
		l.log.Warn("log rotation error", zap.Int("writer", idx), zap.Error(err))
		return currFile, nil
	}

	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	currLogFilePath := path.Join(l.LogDir, fmt.Sprintf("log%d", idx))
	var rotatedLogFilePath string
	for i := 0; i < l.MaxLogFiles; i++ {
		filePath := path.Join(l.LogDir, fmt.Sprintf("log%d.%d", idx, i))
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			rotatedLogFilePath = filePath
			break
		}
	}

	if len(rotatedLogFilePath) == 0 {
		rotatedLogFilePath, err = l.oldestRotatedFile(idx)
		if err != nil {
			l.log.Warn("log rotation error", zap.Int("writer", idx), zap.Error(err))
			return currFile, nil
		}

		l.log.Debug("maximum number of log files reached", zap.Int("writer", idx),
			zap.String("overwriting", rotatedLogFilePath))
		if err = os.Remove(rotatedLogFilePath); err != nil {
			l.log.Warn("log rotation error", zap.Int("writer", idx), zap.Error(err))
			return currFile, nil
		}
	}

	currFile.Close()
	if err := os.Rename(currLogFilePath, rotatedLogFilePath); err != nil {
		l.log.Warn("log rotation error", zap.Int("writer", idx), zap.Error(err))
	} else {
		l.log.Debug("log file rotated", zap.Int("writer", idx), zap.String("file", rotatedLogFilePath))
	}

	f, err := l.openLogFile(idx)
	if err != nil {
		l.log.Error("log rotation error", zap.Int("writer", idx), zap.Error(err))
	}
	return f, err
}

func (l *FileLogger) oldestRotatedFile(idx int) (string, error) {
	entries, err := os.ReadDir(l.LogDir)
	if err != nil {
		return "", err
	}

	prefix := fmt.Sprintf("log%d", idx)
	var oldest fs.FileInfo
	oldestTime := time.Now()
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		fileName := filepath.Base(e.Name())
		if strings.TrimSuffix(fileName, path.Ext(fileName)) != prefix || fileName == prefix {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().Before(oldestTime) {
			oldest = fi
			oldestTime = fi.ModTime()
		}
	}

	if oldest == nil {
		return path.Join(l.LogDir, fmt.Sprintf("log%d.%d", idx, 0)), nil
	}
	return path.Join(l.LogDir, oldest.Name()), nil
}
