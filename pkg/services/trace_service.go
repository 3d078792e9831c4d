package services

import (
	"context"
	"sort"
	"time"

	"github.com/spanlight/spanlight/pkg/models"
)

// SyntheticRootSpanID marks the artificial root emitted when a trace has
// multiple roots (or none with a null parent).
const SyntheticRootSpanID = "__root__"

// TraceService reconstructs span trees from the flat span store.
type TraceService struct {
	spans *SpanService
}

// NewTraceService creates a new TraceService.
func NewTraceService(spans *SpanService) *TraceService {
	if spans == nil {
		panic("NewTraceService: spans must not be nil")
	}
	return &TraceService{spans: spans}
}

// GetTrace fetches all spans of a trace and reconstructs the tree.
// Returns ErrNotFound when the trace has no spans.
func (s *TraceService) GetTrace(ctx context.Context, traceID string) (*models.TreeNode, error) {
	spans, err := s.spans.GetTraceSpans(ctx, traceID)
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return nil, ErrNotFound
	}
	return BuildTree(spans), nil
}

// BuildTree assembles a span tree from a flat span set. Arrival order does
// not matter: spans whose parent is absent become roots, children are sorted
// by timestamp (span_id breaks ties), and a cycle guard keeps malformed
// parent pointers from looping. When more than one root emerges, the forest
// is wrapped in a synthetic root whose latency spans max(end) - min(start)
// and whose cost is the sum over all spans.
func BuildTree(spans []*models.Span) *models.TreeNode {
	if len(spans) == 0 {
		return nil
	}

	nodes := make(map[string]*models.TreeNode, len(spans))
	ordered := make([]*models.TreeNode, 0, len(spans))
	for _, sp := range spans {
		n := &models.TreeNode{Span: *sp}
		// Duplicated span_ids inside one trace cannot come from the store
		// (the PK forbids them); first wins if a caller passes them anyway.
		if _, exists := nodes[sp.SpanID]; exists {
			continue
		}
		nodes[sp.SpanID] = n
		ordered = append(ordered, n)
	}

	var roots []*models.TreeNode
	for _, n := range ordered {
		if n.ParentSpanID == nil {
			roots = append(roots, n)
			continue
		}
		parent, ok := nodes[*n.ParentSpanID]
		if !ok || parent == n || createsCycle(nodes, n) {
			// Out-of-order arrival may have dropped the parent, or the
			// pointer is malformed; promote to root.
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}

	// No span had a null parent and every parent pointer resolved into a
	// cycle-free chain: treat the earliest span as root.
	if len(roots) == 0 {
		earliest := ordered[0]
		for _, n := range ordered[1:] {
			if n.Timestamp.Before(earliest.Timestamp) {
				earliest = n
			}
		}
		roots = append(roots, earliest)
	}

	for _, n := range ordered {
		sortChildren(n)
	}
	sortNodes(roots)

	if len(roots) == 1 {
		return roots[0]
	}

	// Forest: wrap under a synthetic root with aggregate timing and cost.
	root := &models.TreeNode{Children: roots}
	root.SpanID = SyntheticRootSpanID
	root.TraceID = roots[0].TraceID
	root.CustomerID = roots[0].CustomerID
	root.ServiceName = roots[0].ServiceName
	root.Status = models.SpanStatusSuccess

	start := roots[0].Timestamp
	end := roots[0].Timestamp.Add(msToDuration(roots[0].LatencyMS))
	for _, sp := range spans {
		root.CostUSD += sp.CostUSD
		if sp.Timestamp.Before(start) {
			start = sp.Timestamp
		}
		if e := sp.Timestamp.Add(msToDuration(sp.LatencyMS)); e.After(end) {
			end = e
		}
		if sp.Status == models.SpanStatusError {
			root.Status = models.SpanStatusError
		}
	}
	root.Timestamp = start
	root.LatencyMS = float64(end.Sub(start).Microseconds()) / 1000
	return root
}

// Flatten returns the tree's spans in depth-first order. The result of
// flattening a reconstructed tree equals the stored span set.
func Flatten(node *models.TreeNode) []*models.Span {
	if node == nil {
		return nil
	}
	var out []*models.Span
	var walk func(n *models.TreeNode)
	walk = func(n *models.TreeNode) {
		if n.SpanID != SyntheticRootSpanID {
			sp := n.Span
			out = append(out, &sp)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(node)
	return out
}

// createsCycle walks the parent chain from n and reports whether it revisits
// a span before terminating.
func createsCycle(nodes map[string]*models.TreeNode, n *models.TreeNode) bool {
	visited := map[string]bool{n.SpanID: true}
	cur := n
	for cur.ParentSpanID != nil {
		parent, ok := nodes[*cur.ParentSpanID]
		if !ok {
			return false
		}
		if visited[parent.SpanID] {
			return true
		}
		visited[parent.SpanID] = true
		cur = parent
	}
	return false
}

func sortChildren(n *models.TreeNode) {
	sortNodes(n.Children)
}

func sortNodes(nodes []*models.TreeNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if !nodes[i].Timestamp.Equal(nodes[j].Timestamp) {
			return nodes[i].Timestamp.Before(nodes[j].Timestamp)
		}
		return nodes[i].SpanID < nodes[j].SpanID
	})
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
