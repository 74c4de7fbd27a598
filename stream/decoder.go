// Package stream 将回答服务返回的分块文本流解码为有序的事件序列
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"ckd-chat-gateway/model"
)

const (
	// EventPrefix 事件行的固定前缀，冒号后可选一个空格
	EventPrefix = "data:"

	defaultReadSize    = 4096
	defaultMaxLineSize = 1 << 20
)

var prefix = []byte(EventPrefix)

// Decoder 单次遍历、不可回退地读取底层数据源。
// 跨 chunk 的事件行通过 carry 缓冲区重新拼接。
type Decoder struct {
	r      io.Reader
	chunk  []byte
	carry  []byte
	queue  []model.Event
	logger *slog.Logger

	maxLineSize int

	// 当前行超长，丢弃到下一个换行为止
	skipping bool

	done    bool
	err     error
	dropped int
}

type Option func(*Decoder)

func WithReadSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.chunk = make([]byte, n)
		}
	}
}

func WithMaxLineSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLineSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		r:           r,
		chunk:       make([]byte, defaultReadSize),
		maxLineSize: defaultMaxLineSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next 返回下一个事件。数据源结束或产出 done/error 事件之后返回 io.EOF，
// 数据源的读取错误原样返回。
func (d *Decoder) Next() (model.Event, error) {
	for {
		if len(d.queue) > 0 {
			ev := d.queue[0]
			d.queue = d.queue[1:]
			if ev.Terminal() {
				// 终止事件之后的内容一律丢弃，也不再读取数据源
				d.done = true
				d.queue = nil
			}
			return ev, nil
		}

		if d.done {
			return model.Event{}, io.EOF
		}
		if d.err != nil {
			return model.Event{}, d.err
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.feed(d.chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.flush()
				d.err = io.EOF
			} else {
				d.err = err
			}
		}
	}
}

// Dropped 被丢弃的格式错误行数
func (d *Decoder) Dropped() int {
	return d.dropped
}

func (d *Decoder) feed(p []byte) {
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			d.appendCarry(p)
			return
		}

		d.appendCarry(p[:i])
		if !d.skipping {
			d.parseLine(d.carry)
		}
		d.skipping = false
		d.carry = d.carry[:0]
		p = p[i+1:]
	}
}

func (d *Decoder) appendCarry(p []byte) {
	if d.skipping {
		return
	}
	if len(d.carry)+len(p) > d.maxLineSize {
		d.drop("line exceeds max size", nil)
		d.carry = d.carry[:0]
		d.skipping = true
		return
	}
	d.carry = append(d.carry, p...)
}

// flush 数据源结束时，最后一段未以换行结尾的内容也按一行处理
func (d *Decoder) flush() {
	if !d.skipping && len(d.carry) > 0 {
		d.parseLine(d.carry)
	}
	d.carry = d.carry[:0]
	d.skipping = false
}

func (d *Decoder) parseLine(line []byte) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(bytes.TrimSpace(line)) == 0 || !bytes.HasPrefix(line, prefix) {
		return
	}

	payload := bytes.TrimPrefix(line[len(prefix):], []byte(" "))

	var ev model.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		d.drop("malformed event payload", err)
		return
	}
	if !ev.Type.Valid() {
		d.drop("unknown event type", nil, "type", string(ev.Type))
		return
	}

	d.queue = append(d.queue, ev)
}

func (d *Decoder) drop(reason string, err error, attrs ...any) {
	d.dropped++
	attrs = append(attrs, "reason", reason, "dropped", d.dropped)
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	d.logger.Warn("Dropped stream line", attrs...)
}
