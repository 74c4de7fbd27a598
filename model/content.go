package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type ContentKind string

const (
	// ContentText 历史消息中的纯文本形式
	ContentText ContentKind = "text"

	// ContentOutline 助手回答的两段式结构：摘要 + 详细说明
	ContentOutline ContentKind = "outline"
)

// Content 消息内容的唯一表示。
// 远端返回的纯文本在边界处被规整为 {Outline: s, Detail: s}，
// 消费方不再需要区分字符串与对象两种形状。
type Content struct {
	Kind    ContentKind `json:"kind"`
	Outline string      `json:"outline"`
	Detail  string      `json:"detail"`
}

func TextContent(s string) Content {
	return Content{Kind: ContentText, Outline: s, Detail: s}
}

func OutlineContent(outline, detail string) Content {
	return Content{Kind: ContentOutline, Outline: outline, Detail: detail}
}

// Text 界面上主要渲染的文本
func (c Content) Text() string {
	return c.Outline
}

func (c Content) IsZero() bool {
	return c.Kind == "" && c.Outline == "" && c.Detail == ""
}

// UnmarshalJSON 同时接受字符串和 {outline, detail} 对象
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = Content{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode text content: %w", err)
		}
		*c = TextContent(s)
		return nil
	}

	var obj struct {
		Kind    ContentKind `json:"kind"`
		Outline string      `json:"outline"`
		Detail  string      `json:"detail"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode outline content: %w", err)
	}

	kind := obj.Kind
	if kind == "" {
		kind = ContentOutline
	}
	*c = Content{Kind: kind, Outline: obj.Outline, Detail: obj.Detail}
	return nil
}
