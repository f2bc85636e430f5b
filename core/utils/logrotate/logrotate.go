// Package logrotate writes logs into a file that is swapped on a fixed
// wall-clock period, e.g. ./log/match.20240102.log.
package logrotate

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const DefaultTimeFormat = "20060102"

type Option func(*RotateLog)

func WithTimeFormat(format string) Option {
	return func(r *RotateLog) {
		r.timeFormat = format
	}
}

func WithRotateTime(d time.Duration) Option {
	return func(r *RotateLog) {
		r.rotateTime = d
	}
}

// WithMaxAge removes files of the same prefix whose last modify time is older than maxAge.
func WithMaxAge(maxAge time.Duration) Option {
	return func(r *RotateLog) {
		r.maxAge = maxAge
	}
}

type RotateLog struct {
	dir        string
	prefix     string
	timeFormat string
	rotateTime time.Duration
	maxAge     time.Duration

	mu     sync.Mutex
	file   *os.File
	closed chan struct{}
	once   sync.Once
}

func New(dir, prefix string, opts ...Option) (*RotateLog, error) {
	rl := &RotateLog{
		dir:        dir,
		prefix:     prefix,
		timeFormat: DefaultTimeFormat,
		closed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}

	if err := os.MkdirAll(rl.dir, 0755); err != nil {
		return nil, err
	}
	if err := rl.rotate(time.Now()); err != nil {
		return nil, err
	}
	if rl.rotateTime > 0 {
		go rl.loop()
	}
	return rl, nil
}

func (r *RotateLog) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return 0, os.ErrClosed
	}
	return r.file.Write(b)
}

func (r *RotateLog) Close() error {
	var err error
	r.once.Do(func() {
		close(r.closed)
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.file != nil {
			err = r.file.Close()
			r.file = nil
		}
	})
	return err
}

// Path returns the file name used for logs written at t.
func (r *RotateLog) Path(t time.Time) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s.%s.log", r.prefix, t.Format(r.timeFormat)))
}

func (r *RotateLog) loop() {
	for {
		now := time.Now()
		timer := time.NewTimer(NextRotate(now, r.rotateTime).Sub(now))
		select {
		case <-r.closed:
			timer.Stop()
			return
		case now = <-timer.C:
			if err := r.rotate(now); err != nil {
				fmt.Fprintln(os.Stderr, "logrotate:", err)
			}
		}
	}
}

// NextRotate returns the next boundary of period after now, aligned to local midnight.
func NextRotate(now time.Time, period time.Duration) time.Time {
	y, m, d := now.Date()
	base := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	elapsed := now.Sub(base)
	return base.Add((elapsed/period + 1) * period)
}

func (r *RotateLog) rotate(now time.Time) error {
	file, err := os.OpenFile(r.Path(now), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := r.file
	r.file = file
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if r.maxAge > 0 {
		go r.deleteExpired(now)
	}
	return nil
}

func (r *RotateLog) deleteExpired(now time.Time) {
	matches, err := filepath.Glob(filepath.Join(r.dir, r.prefix+".*.log"))
	if err != nil {
		return
	}
	current := r.Path(now)
	cutoff := now.Add(-r.maxAge)
	for _, path := range matches {
		if path == current {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		os.Remove(path)
	}
}
