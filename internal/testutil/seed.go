package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/repository"
)

// Seeder populates a repository with test data, failing the test on any
// error. Every method returns the new record's store id.
type Seeder struct {
	t    testing.TB
	repo repository.Writer
}

// Seed creates a Seeder writing to repo.
func Seed(t testing.TB, repo repository.Writer) *Seeder {
	return &Seeder{t: t, repo: repo}
}

func (s *Seeder) create(rec *repository.Record) string {
	s.t.Helper()
	id, err := s.repo.Create(context.Background(), rec)
	require.NoError(s.t, err)
	return id
}

// Product creates a product.
func (s *Seeder) Product(name string, fields entity.Object) string {
	s.t.Helper()
	return s.create(&repository.Record{
		Kind:   entity.KindProduct,
		Key:    entity.Object{entity.FieldName: entity.String(name)},
		Fields: fields,
	})
}

// Component creates a component of product.
func (s *Seeder) Component(product, name string) string {
	s.t.Helper()
	return s.create(&repository.Record{
		Kind:  entity.KindComponent,
		Key:   entity.Object{entity.FieldName: entity.String(name)},
		Links: map[string][]string{entity.LinkProduct: {product}},
	})
}

// Build creates a build of product.
func (s *Seeder) Build(product, version, name string) string {
	s.t.Helper()
	return s.create(&repository.Record{
		Kind: entity.KindBuild,
		Key: entity.Object{
			entity.FieldVersion: entity.String(version),
			entity.FieldName:    entity.String(name),
		},
		Links: map[string][]string{entity.LinkProduct: {product}},
	})
}

// TestCase creates a test case of product. parent may be empty.
func (s *Seeder) TestCase(product, summary string, fields entity.Object, components []string, parent string) string {
	s.t.Helper()
	links := map[string][]string{entity.LinkProduct: {product}}
	if len(components) > 0 {
		links[entity.LinkComponents] = components
	}
	if parent != "" {
		links[entity.LinkParent] = []string{parent}
	}
	return s.create(&repository.Record{
		Kind:   entity.KindTestCase,
		Key:    entity.Object{entity.FieldSummary: entity.String(summary)},
		Fields: fields,
		Links:  links,
	})
}

// TestPlan creates a test plan of product holding cases in order.
func (s *Seeder) TestPlan(product, name, version string, cases ...string) string {
	s.t.Helper()
	links := map[string][]string{entity.LinkProduct: {product}}
	if len(cases) > 0 {
		links[entity.LinkCases] = cases
	}
	return s.create(&repository.Record{
		Kind: entity.KindTestPlan,
		Key: entity.Object{
			entity.FieldName:    entity.String(name),
			entity.FieldVersion: entity.String(version),
		},
		Links: links,
	})
}

// CaseResult creates the result of one case within run.
func (s *Seeder) CaseResult(testCase, build, run string, fields entity.Object) string {
	s.t.Helper()
	return s.create(&repository.Record{
		Kind:   entity.KindCaseResult,
		Key:    entity.Object{entity.FieldRun: entity.String(run)},
		Fields: fields,
		Links: map[string][]string{
			entity.LinkCase:  {testCase},
			entity.LinkBuild: {build},
		},
	})
}

// PlanResult creates a plan run linking results in order.
func (s *Seeder) PlanResult(plan, build, summary string, results ...string) string {
	s.t.Helper()
	links := map[string][]string{
		entity.LinkPlan:  {plan},
		entity.LinkBuild: {build},
	}
	if len(results) > 0 {
		links[entity.LinkResults] = results
	}
	return s.create(&repository.Record{
		Kind:  entity.KindPlanResult,
		Key:   entity.Object{entity.FieldSummary: entity.String(summary)},
		Links: links,
	})
}
