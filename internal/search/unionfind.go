package search

// unionFind is a disjoint-set structure over AniList ids. Union
// attaches the larger root under the smaller one, so the canonical
// root of a cluster is its minimum id regardless of union order —
// clustering a fixed input set is idempotent and order-independent.
type unionFind struct {
	parent map[int]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[int]int)}
}

// find returns the root of id, compressing the path on the way.
func (u *unionFind) find(id int) int {
	p, ok := u.parent[id]
	if !ok {
		u.parent[id] = id
		return id
	}
	if p == id {
		return id
	}
	root := u.find(p)
	u.parent[id] = root
	return root
}

// union merges the sets containing a and b.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
