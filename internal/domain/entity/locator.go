// Package entity 定义领域实体
package entity

import (
	"fmt"
	"math"
)

// Locator 叙事位置：卷（书）、章、章内序号
type Locator struct {
	Book     int   `json:"book" validate:"min=1"`
	Chapter  int   `json:"chapter" validate:"min=1"`
	Sequence int64 `json:"sequence,omitempty" validate:"min=0"`
}

// ChapterRef 章节引用
type ChapterRef struct {
	Book    int `json:"book"`
	Chapter int `json:"chapter"`
}

// NewLocator 创建位置
func NewLocator(book, chapter int) Locator {
	return Locator{Book: book, Chapter: chapter}
}

// EndOfBook 返回某一卷的最大位置，用于"截至第 N 卷"的查询
func EndOfBook(book int) Locator {
	return Locator{Book: book, Chapter: math.MaxInt32, Sequence: math.MaxInt64}
}

// EndOfChapter 返回某一章的最大位置
func EndOfChapter(book, chapter int) Locator {
	return Locator{Book: book, Chapter: chapter, Sequence: math.MaxInt64}
}

// Compare 比较两个位置，返回 -1/0/1
func (l Locator) Compare(o Locator) int {
	switch {
	case l.Book != o.Book:
		return cmpInt64(int64(l.Book), int64(o.Book))
	case l.Chapter != o.Chapter:
		return cmpInt64(int64(l.Chapter), int64(o.Chapter))
	default:
		return cmpInt64(l.Sequence, o.Sequence)
	}
}

// Before 是否严格早于 o
func (l Locator) Before(o Locator) bool {
	return l.Compare(o) < 0
}

// ChapterRef 返回所在章节
func (l Locator) ChapterRef() ChapterRef {
	return ChapterRef{Book: l.Book, Chapter: l.Chapter}
}

// IsZero 是否为空位置
func (l Locator) IsZero() bool {
	return l.Book == 0 && l.Chapter == 0 && l.Sequence == 0
}

// String 返回可读形式
func (l Locator) String() string {
	if l.Sequence == 0 {
		return fmt.Sprintf("B%dC%d", l.Book, l.Chapter)
	}
	return fmt.Sprintf("B%dC%d#%d", l.Book, l.Chapter, l.Sequence)
}

// Less 章节排序
func (c ChapterRef) Less(o ChapterRef) bool {
	if c.Book != o.Book {
		return c.Book < o.Book
	}
	return c.Chapter < o.Chapter
}

// String 返回可读形式
func (c ChapterRef) String() string {
	return fmt.Sprintf("B%dC%d", c.Book, c.Chapter)
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
