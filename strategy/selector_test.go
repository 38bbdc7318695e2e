package strategy

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/counselflow/types"
)

func TestSelect_DecisionTable(t *testing.T) {
	tests := []struct {
		complexity types.Complexity
		relational bool
		mode       types.Mode
		want       types.Strategy
	}{
		{types.ComplexitySimple, false, types.ModeLive, types.Strategy{Name: types.StrategyVector, VectorK: 3}},
		{types.ComplexitySimple, true, types.ModeLive, types.Strategy{Name: types.StrategyVector, VectorK: 3}},
		{types.ComplexitySimple, false, types.ModePreparation, types.Strategy{Name: types.StrategyVector, VectorK: 5}},
		{types.ComplexityMultiHop, true, types.ModeLive, types.Strategy{Name: types.StrategyGraph, GraphK: 5}},
		{types.ComplexityMultiHop, false, types.ModeLive, types.Strategy{Name: types.StrategyVector, VectorK: 5}},
		{types.ComplexityMultiHop, true, types.ModePreparation, types.Strategy{Name: types.StrategyGraph, GraphK: 7}},
		{types.ComplexityMultiHop, false, types.ModePreparation, types.Strategy{Name: types.StrategyVector, VectorK: 7}},
		{types.ComplexityComplex, false, types.ModeLive, types.Strategy{Name: types.StrategyDecompose, VectorK: 5, GraphK: 5, SubLimit: 5}},
		{types.ComplexityComplex, true, types.ModePreparation, types.Strategy{Name: types.StrategyDecompose, VectorK: 7, GraphK: 7, SubLimit: 7}},
		{types.ComplexitySimple, false, "", types.Strategy{Name: types.StrategyVector, VectorK: 3}},
		{"unknown", false, types.ModeLive, types.Strategy{Name: types.StrategyDecompose, VectorK: 5, GraphK: 5, SubLimit: 5}},
	}
	for _, tt := range tests {
		a := types.Analysis{Complexity: tt.complexity, Relational: tt.relational}
		assert.Equal(t, tt.want, Select(a, tt.mode), "%s relational=%v mode=%q", tt.complexity, tt.relational, tt.mode)
	}
}

func TestTable_Validate(t *testing.T) {
	assert.NoError(t, DefaultTable().Validate())
	bad := DefaultTable()
	bad.Preparation.SubLimit = 0
	assert.Error(t, bad.Validate())
}

func genAnalysis() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf(types.ComplexitySimple, types.ComplexityMultiHop, types.ComplexityComplex),
		gen.Bool(),
		gen.OneConstOf(types.SafetyClear, types.SafetyCaution, types.SafetyEscalate),
		gen.OneConstOf(types.DomainLifestyle, types.DomainNutrition, types.DomainMedical, types.DomainOther),
	).Map(func(v []interface{}) types.Analysis {
		return types.Analysis{
			Complexity: v[0].(types.Complexity),
			Relational: v[1].(bool),
			Safety:     v[2].(types.SafetyLevel),
			Domain:     v[3].(types.Domain),
		}
	})
}

func TestProperty_Select_PureAndModeOnlyChangesK(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated calls are identical", prop.ForAll(
		func(a types.Analysis, m types.Mode) bool {
			return Select(a, m) == Select(a, m)
		},
		genAnalysis(),
		gen.OneConstOf(types.ModeLive, types.ModePreparation),
	))

	properties.Property("mode never changes the branch", prop.ForAll(
		func(a types.Analysis) bool {
			return Select(a, types.ModeLive).Name == Select(a, types.ModePreparation).Name
		},
		genAnalysis(),
	))

	properties.Property("safety and domain never influence selection", prop.ForAll(
		func(a types.Analysis, m types.Mode) bool {
			b := types.Analysis{Complexity: a.Complexity, Relational: a.Relational}
			return Select(a, m) == Select(b, m)
		},
		genAnalysis(),
		gen.OneConstOf(types.ModeLive, types.ModePreparation),
	))

	properties.TestingRun(t)
}
