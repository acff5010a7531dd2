// Package rank 合并各数据源结果为全局有序的一页，并提供页内排序钩子。
package rank

import (
	"container/heap"

	"go-timeline/internal/models"
)

// Input 单个数据源的结果，Posts 已按全序排好
type Input struct {
	Source    string
	Posts     []*models.Post
	Exhausted bool
	Horizon   models.Watermark
}

// Output 合并结果。
// HasMore=false 时 Next 为零值，表示流已结束
type Output struct {
	Posts   []*models.Post
	Next    models.Watermark
	HasMore bool
}

// Merge k 路归并：
// - 全序 (CreatedAt desc, ID desc)，同一帖子出现在多个数据源时只保留第一次
// - 不输出低于截断线（未耗尽数据源的最高 Horizon）的帖子，这些帖子留给下一页
// - 凑满 limit 时下一页水位为最后一条帖子，否则为截断线
func Merge(inputs []Input, limit int) Output {
	if limit < 0 {
		limit = 0
	}
	var cut models.Watermark
	allExhausted := true
	for _, in := range inputs {
		if in.Exhausted {
			continue
		}
		allExhausted = false
		if cut.IsZero() || in.Horizon.Above(cut) {
			cut = in.Horizon
		}
	}

	h := make(cursorHeap, 0, len(inputs))
	for i, in := range inputs {
		if len(in.Posts) > 0 {
			h = append(h, &head{src: i, posts: in.Posts})
		}
	}
	heap.Init(&h)

	out := make([]*models.Post, 0, limit)
	seen := make(map[int64]struct{})
	pending := false
	for h.Len() > 0 {
		top := h[0]
		p := top.posts[top.pos]
		if _, dup := seen[p.ID]; !dup {
			if !cut.IsZero() && cut.Above(p.Watermark()) {
				break
			}
			if len(out) == limit {
				pending = true
				break
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
		top.pos++
		if top.pos == len(top.posts) {
			heap.Pop(&h)
		} else {
			heap.Fix(&h, 0)
		}
	}

	res := Output{Posts: out}
	switch {
	case len(out) > 0 && len(out) == limit && (pending || !allExhausted):
		// 凑满一页，且仍有候选或仍有数据源未耗尽
		res.HasMore = true
		res.Next = out[len(out)-1].Watermark()
	case !allExhausted:
		res.HasMore = true
		res.Next = cut
	}
	return res
}

type head struct {
	src   int
	posts []*models.Post
	pos   int
}

type cursorHeap []*head

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	a, b := h[i].posts[h[i].pos], h[j].posts[h[j].pos]
	aw, bw := a.Watermark(), b.Watermark()
	if aw.Above(bw) {
		return true
	}
	if bw.Above(aw) {
		return false
	}
	return h[i].src < h[j].src
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*head)) }

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
