// Package suitetree indexes a project's suites by parent id.
//
// Suites are stored flat with a parent pointer. The index answers children,
// ancestor and descendant queries iteratively and validates parent
// assignments so the stored hierarchy never contains a cycle.
package suitetree

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/animus-labs/qadash/internal/domain"
)

var (
	ErrCycle         = errors.New("suite parent would create a cycle")
	ErrUnknownSuite  = errors.New("unknown suite")
	ErrUnknownParent = errors.New("unknown parent suite")
	ErrCrossProject  = errors.New("parent suite belongs to another project")
)

type Index struct {
	suites   map[string]domain.Suite
	children map[string][]string
	roots    []string
}

// Node is a suite with its children resolved, for tree rendering.
type Node struct {
	Suite    domain.Suite
	Depth    int
	Children []*Node
}

// New builds an index. Suites whose parent is missing are treated as roots so
// a partially loaded tree still renders.
func New(suites []domain.Suite) *Index {
	idx := &Index{
		suites:   make(map[string]domain.Suite, len(suites)),
		children: make(map[string][]string),
	}
	for _, s := range suites {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			continue
		}
		idx.suites[id] = s
	}
	for id, s := range idx.suites {
		parent := strings.TrimSpace(s.ParentSuiteID)
		if _, ok := idx.suites[parent]; parent == "" || !ok || parent == id {
			idx.roots = append(idx.roots, id)
			continue
		}
		idx.children[parent] = append(idx.children[parent], id)
	}
	idx.sortIDs(idx.roots)
	for parent := range idx.children {
		idx.sortIDs(idx.children[parent])
	}
	return idx
}

func (idx *Index) sortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := idx.suites[ids[i]], idx.suites[ids[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

func (idx *Index) Len() int {
	return len(idx.suites)
}

func (idx *Index) Get(id string) (domain.Suite, bool) {
	s, ok := idx.suites[strings.TrimSpace(id)]
	return s, ok
}

func (idx *Index) Roots() []domain.Suite {
	return idx.resolve(idx.roots)
}

func (idx *Index) Children(id string) []domain.Suite {
	return idx.resolve(idx.children[strings.TrimSpace(id)])
}

// Ancestors returns the chain from the direct parent up to the root.
func (idx *Index) Ancestors(id string) ([]domain.Suite, error) {
	id = strings.TrimSpace(id)
	current, ok := idx.suites[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSuite, id)
	}
	out := make([]domain.Suite, 0)
	seen := map[string]struct{}{id: {}}
	for {
		parentID := strings.TrimSpace(current.ParentSuiteID)
		parent, ok := idx.suites[parentID]
		if parentID == "" || !ok {
			return out, nil
		}
		if _, dup := seen[parentID]; dup {
			return out, fmt.Errorf("%w: %s", ErrCycle, parentID)
		}
		seen[parentID] = struct{}{}
		out = append(out, parent)
		current = parent
	}
}

// Descendants returns every suite below id in breadth-first order.
func (idx *Index) Descendants(id string) []domain.Suite {
	id = strings.TrimSpace(id)
	out := make([]domain.Suite, 0)
	queue := append([]string(nil), idx.children[id]...)
	seen := map[string]struct{}{id: {}}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, dup := seen[next]; dup {
			continue
		}
		seen[next] = struct{}{}
		out = append(out, idx.suites[next])
		queue = append(queue, idx.children[next]...)
	}
	return out
}

// Path returns suite names from the root down to id.
func (idx *Index) Path(id string) ([]string, error) {
	suite, ok := idx.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSuite, id)
	}
	ancestors, err := idx.Ancestors(id)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ancestors)+1)
	for i := len(ancestors) - 1; i >= 0; i-- {
		out = append(out, ancestors[i].Name)
	}
	return append(out, suite.Name), nil
}

// ValidateParent checks that suiteID may hang under parentID. An empty
// parentID makes the suite a root. suiteID may be unknown to the index when
// validating a suite that is about to be created.
func (idx *Index) ValidateParent(suiteID, projectID, parentID string) error {
	suiteID = strings.TrimSpace(suiteID)
	parentID = strings.TrimSpace(parentID)
	if parentID == "" {
		return nil
	}
	if parentID == suiteID {
		return fmt.Errorf("%w: suite %s cannot be its own parent", ErrCycle, suiteID)
	}
	parent, ok := idx.suites[parentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParent, parentID)
	}
	if strings.TrimSpace(projectID) != "" && parent.ProjectID != strings.TrimSpace(projectID) {
		return ErrCrossProject
	}
	if _, exists := idx.suites[suiteID]; !exists {
		return nil
	}
	for _, below := range idx.Descendants(suiteID) {
		if below.ID == parentID {
			return fmt.Errorf("%w: %s is below %s", ErrCycle, parentID, suiteID)
		}
	}
	return nil
}

// Tree materializes the whole forest for rendering.
func (idx *Index) Tree() []*Node {
	out := make([]*Node, 0, len(idx.roots))
	for _, root := range idx.roots {
		out = append(out, idx.build(root, 0, map[string]struct{}{}))
	}
	return out
}

func (idx *Index) build(id string, depth int, seen map[string]struct{}) *Node {
	seen[id] = struct{}{}
	node := &Node{Suite: idx.suites[id], Depth: depth}
	for _, child := range idx.children[id] {
		if _, dup := seen[child]; dup {
			continue
		}
		node.Children = append(node.Children, idx.build(child, depth+1, seen))
	}
	return node
}

func (idx *Index) resolve(ids []string) []domain.Suite {
	out := make([]domain.Suite, 0, len(ids))
	for _, id := range ids {
		out = append(out, idx.suites[id])
	}
	return out
}
