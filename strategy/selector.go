// Package strategy 把问题分析结果映射为检索策略。
//
// 选择是纯函数：同样的 (Analysis, Mode) 永远得到同样的 Strategy，
// 模式只改变 k 值，不改变分支。
package strategy

import (
	"fmt"

	"github.com/BaSui01/counselflow/types"
)

// ModeK 单个模式下的 top-k 取值
type ModeK struct {
	Simple   int `yaml:"simple" json:"simple"`
	MultiHop int `yaml:"multi_hop" json:"multi_hop"`
	SubLimit int `yaml:"sub_limit" json:"sub_limit"`
}

// Table 决策表的 k 值部分
type Table struct {
	Live        ModeK `yaml:"live" json:"live"`
	Preparation ModeK `yaml:"preparation" json:"preparation"`
}

// DefaultTable 返回默认 k 值：live 3/5/5，preparation 5/7/7
func DefaultTable() Table {
	return Table{
		Live:        ModeK{Simple: 3, MultiHop: 5, SubLimit: 5},
		Preparation: ModeK{Simple: 5, MultiHop: 7, SubLimit: 7},
	}
}

// Validate 检查所有 k 值为正
func (t Table) Validate() error {
	for name, k := range map[string]ModeK{"live": t.Live, "preparation": t.Preparation} {
		if k.Simple <= 0 || k.MultiHop <= 0 || k.SubLimit <= 0 {
			return fmt.Errorf("strategy table %s: k values must be positive", name)
		}
	}
	return nil
}

func (t Table) forMode(m types.Mode) ModeK {
	if m.OrDefault() == types.ModePreparation {
		return t.Preparation
	}
	return t.Live
}

// Select 按决策表选择策略
//
//	simple                  -> vector    (Simple)
//	multi-hop + relational  -> graph     (MultiHop)
//	multi-hop               -> vector    (MultiHop)
//	complex                 -> decompose (SubLimit per sub-query)
//
// 未知复杂度按 complex 处理。
func (t Table) Select(a types.Analysis, m types.Mode) types.Strategy {
	k := t.forMode(m)
	switch a.Complexity {
	case types.ComplexitySimple:
		return types.Strategy{Name: types.StrategyVector, VectorK: k.Simple}
	case types.ComplexityMultiHop:
		if a.Relational {
			return types.Strategy{Name: types.StrategyGraph, GraphK: k.MultiHop}
		}
		return types.Strategy{Name: types.StrategyVector, VectorK: k.MultiHop}
	default:
		return types.Strategy{
			Name:     types.StrategyDecompose,
			VectorK:  k.SubLimit,
			GraphK:   k.SubLimit,
			SubLimit: k.SubLimit,
		}
	}
}

// Select 使用默认决策表
func Select(a types.Analysis, m types.Mode) types.Strategy {
	return DefaultTable().Select(a, m)
}
