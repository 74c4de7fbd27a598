package chat

import (
	"context"
	"strings"

	"ckd-chat-gateway/model"
	"ckd-chat-gateway/store"
)

// Texts 占位与失败时写入的固定文本
type Texts struct {
	Pending        string
	FailureOutline string
	FailureDetail  string
}

func DefaultTexts() Texts {
	return Texts{
		Pending:        "思考中...",
		FailureOutline: "系統發生錯誤",
		FailureDetail:  "系統發生錯誤，請稍後再試。",
	}
}

func (t Texts) placeholder() model.Content {
	return model.OutlineContent(t.Pending, "")
}

func (t Texts) failure() model.Content {
	return model.OutlineContent(t.FailureOutline, t.FailureDetail)
}

// replyWriter 把一个回答流写入固定坐标 (sessionID, index) 的占位消息。
// 分块在本地累积后整体写入，不从 store 回读。
type replyWriter struct {
	ctx       context.Context
	store     *store.Store
	handler   Handler
	sessionID string
	index     int

	outline strings.Builder
	detail  strings.Builder
	applied bool
	last    model.Content
}

func (w *replyWriter) appendOutline(chunk string) {
	w.outline.WriteString(chunk)
	w.applied = true
	w.write(model.OutlineContent(w.outline.String(), w.detail.String()))
}

func (w *replyWriter) appendDetail(chunk string) {
	w.detail.WriteString(chunk)
	w.applied = true
	w.write(model.OutlineContent(w.outline.String(), w.detail.String()))
}

// finish 服务端的最终值覆盖本地累积的内容
func (w *replyWriter) finish(outline, detail string) {
	w.write(model.OutlineContent(outline, detail))
}

func (w *replyWriter) fail(texts Texts) {
	w.write(texts.failure())
}

// write 取消之后不再写入 store
func (w *replyWriter) write(content model.Content) {
	if w.ctx.Err() != nil {
		return
	}
	w.last = content
	if w.store.ReplaceMessageContent(w.sessionID, w.index, content) {
		w.handler.HandleContent(w.ctx, w.sessionID, content)
	}
}
