package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// BomGraph is an in-memory snapshot of every BOM version of a tenant.
// Explosion runs on the snapshot and never touches the database.
type BomGraph struct {
	byProduct map[int][]*BillOfMaterials
}

// ExplodedRequirement is the total quantity of one material consumed at one stage.
type ExplodedRequirement struct {
	MaterialId int             `json:"material_id"`
	Stage      string          `json:"stage"`
	Quantity   decimal.Decimal `json:"quantity"`
}

func NewBomGraph(boms []*BillOfMaterials) *BomGraph {
	g := &BomGraph{byProduct: make(map[int][]*BillOfMaterials)}
	for _, b := range boms {
		sort.Slice(b.Stages, func(i, j int) bool { return b.Stages[i].Seq < b.Stages[j].Seq })
		sort.Slice(b.Lines, func(i, j int) bool { return b.Lines[i].Seq < b.Lines[j].Seq })
		g.byProduct[b.ProductId] = append(g.byProduct[b.ProductId], b)
	}
	return g
}

func LoadBomGraph(tx *gorm.DB, tenantId string) (*BomGraph, error) {
	var boms []*BillOfMaterials
	if err := tx.Where("tenant_id = ?", tenantId).Preload("Stages").Preload("Lines").Find(&boms).Error; err != nil {
		return nil, err
	}
	return NewBomGraph(boms), nil
}

// ActiveBom picks the version in force on asOf; the highest version wins a tie.
func (g *BomGraph) ActiveBom(productId int, asOf time.Time) (*BillOfMaterials, bool) {
	var best *BillOfMaterials
	for _, b := range g.byProduct[productId] {
		if !b.IsEffective(asOf) {
			continue
		}
		if best == nil || b.Version > best.Version {
			best = b
		}
	}
	return best, best != nil
}

// Bom finds a loaded version by id.
func (g *BomGraph) Bom(id int) (*BillOfMaterials, bool) {
	for _, versions := range g.byProduct {
		for _, b := range versions {
			if b.ID == id {
				return b, true
			}
		}
	}
	return nil, false
}

// PathBetween returns a product path from -> ... -> to following sub-assembly
// lines of every version, or nil when to is unreachable.
func (g *BomGraph) PathBetween(from, to int) []int {
	if from == to {
		return []int{from}
	}
	parent := map[int]int{from: 0}
	queue := []int{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, b := range g.byProduct[cur] {
			for _, l := range b.Lines {
				if l.SubAssemblyProductId == nil {
					continue
				}
				next := *l.SubAssemblyProductId
				if _, seen := parent[next]; seen {
					continue
				}
				parent[next] = cur
				if next == to {
					path := []int{to}
					for p := cur; p != from; p = parent[p] {
						path = append(path, p)
					}
					path = append(path, from)
					for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
						path[i], path[j] = path[j], path[i]
					}
					return path
				}
				queue = append(queue, next)
			}
		}
	}
	return nil
}

// Explode expands the product's active BOM for quantity units.
func (g *BomGraph) Explode(productId int, quantity decimal.Decimal, maxDepth int, asOf time.Time) ([]ExplodedRequirement, error) {
	bom, ok := g.ActiveBom(productId, asOf)
	if !ok {
		return nil, fmt.Errorf("%w: product %d on %s", ErrBomNotFound, productId, asOf.Format("2006-01-02"))
	}
	return g.ExplodeBom(bom, quantity, maxDepth, asOf)
}

type explodeFrame struct {
	bom      *BillOfMaterials
	quantity decimal.Decimal
	level    int
	stage    string
	path     []int
}

// ExplodeBom expands a specific BOM version depth-first with an explicit stack.
// Sub-assemblies use their active version on asOf, and the materials they
// contribute are consumed at the stage of the top-level line that pulls them in.
// Requirement per line: qty_per / base_quantity * quantity * (1 + scrap%) / yield%.
func (g *BomGraph) ExplodeBom(root *BillOfMaterials, quantity decimal.Decimal, maxDepth int, asOf time.Time) ([]ExplodedRequirement, error) {
	if quantity.IsNegative() {
		return nil, fmt.Errorf("%w: negative explosion quantity", ErrInvalidMovement)
	}
	type reqKey struct {
		material int
		stage    string
	}
	totals := make(map[reqKey]decimal.Decimal)

	stack := []explodeFrame{{bom: root, quantity: quantity, level: 1, path: []int{root.ProductId}}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if maxDepth > 0 && f.level > maxDepth {
			return nil, fmt.Errorf("%w: %d levels below product %d", ErrBomDepthExceeded, maxDepth, root.ProductId)
		}

		base := f.bom.BaseQuantity
		if !base.IsPositive() {
			base = decimal.NewFromInt(1)
		}
		yield := f.bom.YieldPct
		if !yield.IsPositive() {
			yield = hundred
		}

		for i := len(f.bom.Lines) - 1; i >= 0; i-- {
			l := f.bom.Lines[i]
			req := l.QtyPer.Div(base).Mul(f.quantity).
				Mul(hundred.Add(l.ScrapPct)).Div(yield)
			stage := f.stage
			if stage == "" {
				stage = l.Stage
			}
			if l.MaterialId != nil {
				k := reqKey{*l.MaterialId, stage}
				totals[k] = totals[k].Add(req)
				continue
			}
			subId := *l.SubAssemblyProductId
			for _, p := range f.path {
				if p == subId {
					cycle := append(append([]int{}, f.path...), subId)
					return nil, &CircularBOMError{Path: cycle}
				}
			}
			sub, ok := g.ActiveBom(subId, asOf)
			if !ok {
				return nil, fmt.Errorf("%w: sub-assembly %d on %s", ErrBomNotFound, subId, asOf.Format("2006-01-02"))
			}
			path := append(append(make([]int, 0, len(f.path)+1), f.path...), subId)
			stack = append(stack, explodeFrame{bom: sub, quantity: req, level: f.level + 1, stage: stage, path: path})
		}
	}

	stageSeq := make(map[string]int, len(root.Stages))
	for _, s := range root.Stages {
		stageSeq[s.Code] = s.Seq
	}
	out := make([]ExplodedRequirement, 0, len(totals))
	for k, q := range totals {
		out = append(out, ExplodedRequirement{MaterialId: k.material, Stage: k.stage, Quantity: q.Round(costScale)})
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := stageSeq[out[i].Stage], stageSeq[out[j].Stage]
		if si != sj {
			return si < sj
		}
		if out[i].Stage != out[j].Stage {
			return out[i].Stage < out[j].Stage
		}
		return out[i].MaterialId < out[j].MaterialId
	})
	return out, nil
}

// AggregateByMaterial sums exploded requirements across stages.
func AggregateByMaterial(reqs []ExplodedRequirement) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal)
	for _, r := range reqs {
		out[r.MaterialId] = out[r.MaterialId].Add(r.Quantity)
	}
	return out
}
