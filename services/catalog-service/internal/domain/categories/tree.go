package categories

import (
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
)

// TreeItem плоская запись категории для построения дерева
type TreeItem struct {
	ID                 string `json:"id"`
	ParentID           string `json:"parent_id,omitempty"`
	ExternalID         string `json:"external_id,omitempty"`
	Name               string `json:"name"`
	NameUK             string `json:"name_uk,omitempty"`
	InternalCategoryID string `json:"internal_category_id,omitempty"`
	ProductCount       int    `json:"product_count,omitempty"`
}

// TreeNode узел дерева
type TreeNode struct {
	TreeItem
	Children []*TreeNode `json:"children"`
}

// FlatNode узел дерева, развернутого в список
type FlatNode struct {
	TreeItem
	Depth      int `json:"depth"`
	ChildCount int `json:"child_count"`
}

// FromSupplierCategories переводит категории поставщика в элементы дерева
func FromSupplierCategories(list []models.SupplierCategory) []TreeItem {
	items := make([]TreeItem, 0, len(list))
	for _, c := range list {
		item := TreeItem{
			ID:         c.ID,
			ExternalID: c.ExternalID,
			Name:       c.Name.Default(),
			NameUK:     c.Name.UK,
		}
		if c.ParentID != nil {
			item.ParentID = *c.ParentID
		}
		items = append(items, item)
	}
	return items
}

// FromInternalCategories переводит внутренние категории в элементы дерева
func FromInternalCategories(list []models.InternalCategory) []TreeItem {
	items := make([]TreeItem, 0, len(list))
	for _, c := range list {
		item := TreeItem{ID: c.ID, Name: c.Name, NameUK: c.NameUK}
		if c.ParentID != nil {
			item.ParentID = *c.ParentID
		}
		items = append(items, item)
	}
	return items
}

// BuildTree строит дерево по плоскому списку. Функция тотальна: узел с отсутствующим
// родителем, ссылкой на себя или участвующий в цикле становится корнем.
// Повторный ID игнорируется. Порядок детей совпадает с порядком входа.
func BuildTree(items []TreeItem) []*TreeNode {
	nodes := make(map[string]*TreeNode, len(items))
	order := make([]*TreeNode, 0, len(items))

	for _, item := range items {
		if _, ok := nodes[item.ID]; ok {
			continue
		}
		node := &TreeNode{TreeItem: item, Children: []*TreeNode{}}
		nodes[item.ID] = node
		order = append(order, node)
	}

	roots := make([]*TreeNode, 0)
	for _, node := range order {
		parent, ok := nodes[node.ParentID]
		if !ok || node.ParentID == node.ID || inCycle(nodes, node) {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	return roots
}

// inCycle проверяет, возвращается ли цепочка родителей к самому узлу
func inCycle(nodes map[string]*TreeNode, node *TreeNode) bool {
	seen := map[string]struct{}{node.ID: {}}
	cur := node
	for {
		parent, ok := nodes[cur.ParentID]
		if !ok || parent.ID == cur.ID {
			return false
		}
		if parent.ID == node.ID {
			return true
		}
		if _, ok := seen[parent.ID]; ok {
			// цикл выше по цепочке, сам узел в него не входит
			return false
		}
		seen[parent.ID] = struct{}{}
		cur = parent
	}
}

// CountDescendants число всех потомков узла
func CountDescendants(node *TreeNode) int {
	if node == nil {
		return 0
	}
	count := 0
	stack := append([]*TreeNode(nil), node.Children...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		stack = append(stack, n.Children...)
	}
	return count
}

// CollectSubtreeIDs id узла и всех его потомков в прямом порядке обхода
func CollectSubtreeIDs(node *TreeNode) []string {
	if node == nil {
		return nil
	}
	var ids []string
	stack := []*TreeNode{node}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		ids = append(ids, n.ID)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return ids
}

// Flatten разворачивает лес в список с глубиной
func Flatten(roots []*TreeNode) []FlatNode {
	type entry struct {
		node  *TreeNode
		depth int
	}

	var out []FlatNode
	stack := make([]entry, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, entry{node: roots[i]})
	}

	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, FlatNode{TreeItem: e.node.TreeItem, Depth: e.depth, ChildCount: len(e.node.Children)})
		for i := len(e.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, entry{node: e.node.Children[i], depth: e.depth + 1})
		}
	}
	return out
}

// FindNode ищет узел по id во всем лесу
func FindNode(roots []*TreeNode, id string) *TreeNode {
	stack := append([]*TreeNode(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.ID == id {
			return n
		}
		stack = append(stack, n.Children...)
	}
	return nil
}
