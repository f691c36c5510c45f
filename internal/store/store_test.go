package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/repository"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createProduct(t *testing.T, s *Store, name string) string {
	t.Helper()
	id, err := s.Create(context.Background(), &repository.Record{
		Kind:   entity.KindProduct,
		Key:    entity.Object{entity.FieldName: entity.String(name)},
		Fields: entity.Object{entity.FieldDescription: entity.String("")},
	})
	require.NoError(t, err)
	return id
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"entities", "links", "attachments"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	assert.Error(t, err)
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	assert.NoError(t, s.Close())
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestCreateGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	productID := createProduct(t, s, "Shop")

	compID, err := s.Create(ctx, &repository.Record{
		Kind:  entity.KindComponent,
		Key:   entity.Object{entity.FieldName: entity.String("UI")},
		Links: map[string][]string{entity.LinkProduct: {productID}},
	})
	require.NoError(t, err)

	caseID, err := s.Create(ctx, &repository.Record{
		Kind: entity.KindTestCase,
		Key:  entity.Object{entity.FieldSummary: entity.String("login")},
		Fields: entity.Object{
			entity.FieldScript: entity.String("login.sh"),
			"automated":        entity.Bool(true),
		},
		Links: map[string][]string{
			entity.LinkProduct:    {productID},
			entity.LinkComponents: {compID},
		},
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, entity.KindTestCase, caseID)
	require.NoError(t, err)
	assert.Equal(t, caseID, got.ID)
	assert.Equal(t, entity.String("login"), got.Key[entity.FieldSummary])
	assert.Equal(t, entity.Bool(true), got.Fields["automated"])
	assert.Equal(t, []string{compID}, got.Links[entity.LinkComponents])
	assert.Equal(t, []string{productID}, got.Links[entity.LinkProduct])
}

func TestGet_NotFound(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	productID := createProduct(t, s, "Shop")

	_, err := s.Get(ctx, entity.KindProduct, "999")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	_, err = s.Get(ctx, entity.KindProduct, "not-a-number")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	// Wrong kind for an existing id
	_, err = s.Get(ctx, entity.KindTestPlan, productID)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestFind_ByNaturalKey(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	p1 := createProduct(t, s, "Shop")
	p2 := createProduct(t, s, "Admin")

	for _, pid := range []string{p1, p2} {
		_, err := s.Create(ctx, &repository.Record{
			Kind:  entity.KindComponent,
			Key:   entity.Object{entity.FieldName: entity.String("UI")},
			Links: map[string][]string{entity.LinkProduct: {pid}},
		})
		require.NoError(t, err)
	}

	got, err := s.Find(ctx, repository.Key{
		Kind:   entity.KindComponent,
		Fields: entity.Object{entity.FieldName: entity.String("UI")},
		Links:  map[string]string{entity.LinkProduct: p2},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{p2}, got.Links[entity.LinkProduct])

	_, err = s.Find(ctx, repository.Key{
		Kind:   entity.KindComponent,
		Fields: entity.Object{entity.FieldName: entity.String("API")},
		Links:  map[string]string{entity.LinkProduct: p2},
	})
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestCreate_DuplicateNaturalKeyRejected(t *testing.T) {
	s := createTestStore(t)
	createProduct(t, s, "Shop")

	_, err := s.Create(context.Background(), &repository.Record{
		Kind: entity.KindProduct,
		Key:  entity.Object{entity.FieldName: entity.String("Shop")},
	})
	assert.Error(t, err)
}

func TestUpdate_MergesFieldsAndReplacesLinks(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	productID := createProduct(t, s, "Shop")

	var caseIDs []string
	for _, summary := range []string{"a", "b", "c"} {
		id, err := s.Create(ctx, &repository.Record{
			Kind:  entity.KindTestCase,
			Key:   entity.Object{entity.FieldSummary: entity.String(summary)},
			Links: map[string][]string{entity.LinkProduct: {productID}},
		})
		require.NoError(t, err)
		caseIDs = append(caseIDs, id)
	}

	planID, err := s.Create(ctx, &repository.Record{
		Kind:   entity.KindTestPlan,
		Key:    entity.Object{entity.FieldName: entity.String("smoke"), entity.FieldVersion: entity.String("1.0")},
		Fields: entity.Object{entity.FieldText: entity.String("old"), "type": entity.String("Smoke")},
		Links: map[string][]string{
			entity.LinkProduct: {productID},
			entity.LinkCases:   {caseIDs[0], caseIDs[1]},
		},
	})
	require.NoError(t, err)

	err = s.Update(ctx, entity.KindTestPlan, planID, repository.Patch{
		Fields: entity.Object{entity.FieldText: entity.String("new")},
		Links:  map[string][]string{entity.LinkCases: {caseIDs[2], caseIDs[0]}},
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, entity.KindTestPlan, planID)
	require.NoError(t, err)
	assert.Equal(t, entity.String("new"), got.Fields[entity.FieldText])
	assert.Equal(t, entity.String("Smoke"), got.Fields["type"], "untouched field must survive")
	assert.Equal(t, []string{caseIDs[2], caseIDs[0]}, got.Links[entity.LinkCases])
	assert.Equal(t, []string{productID}, got.Links[entity.LinkProduct])
}

func TestUpdate_RejectsKeyLinkChange(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	p1 := createProduct(t, s, "Shop")
	p2 := createProduct(t, s, "Admin")

	id, err := s.Create(ctx, &repository.Record{
		Kind:  entity.KindComponent,
		Key:   entity.Object{entity.FieldName: entity.String("UI")},
		Links: map[string][]string{entity.LinkProduct: {p1}},
	})
	require.NoError(t, err)

	err = s.Update(ctx, entity.KindComponent, id, repository.Patch{
		Links: map[string][]string{entity.LinkProduct: {p2}},
	})
	assert.Error(t, err)
}

func TestUpdate_NotFound(t *testing.T) {
	s := createTestStore(t)
	err := s.Update(context.Background(), entity.KindProduct, "42", repository.Patch{
		Fields: entity.Object{entity.FieldDescription: entity.String("x")},
	})
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestListReferencing_OrderedByID(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	productID := createProduct(t, s, "Shop")
	otherID := createProduct(t, s, "Other")

	var want []string
	for _, summary := range []string{"zeta", "alpha", "mid"} {
		id, err := s.Create(ctx, &repository.Record{
			Kind:  entity.KindTestCase,
			Key:   entity.Object{entity.FieldSummary: entity.String(summary)},
			Links: map[string][]string{entity.LinkProduct: {productID}},
		})
		require.NoError(t, err)
		want = append(want, id)
	}
	_, err := s.Create(ctx, &repository.Record{
		Kind:  entity.KindTestCase,
		Key:   entity.Object{entity.FieldSummary: entity.String("elsewhere")},
		Links: map[string][]string{entity.LinkProduct: {otherID}},
	})
	require.NoError(t, err)

	got, err := s.ListReferencing(ctx, entity.KindTestCase, entity.LinkProduct, productID)
	require.NoError(t, err)

	var ids []string
	for _, rec := range got {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, want, ids)

	none, err := s.ListReferencing(ctx, entity.KindTestPlan, entity.LinkProduct, productID)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestDelete_LeavesDanglingLinks(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	productID := createProduct(t, s, "Shop")

	compID, err := s.Create(ctx, &repository.Record{
		Kind:  entity.KindComponent,
		Key:   entity.Object{entity.FieldName: entity.String("UI")},
		Links: map[string][]string{entity.LinkProduct: {productID}},
	})
	require.NoError(t, err)
	caseID, err := s.Create(ctx, &repository.Record{
		Kind: entity.KindTestCase,
		Key:  entity.Object{entity.FieldSummary: entity.String("login")},
		Links: map[string][]string{
			entity.LinkProduct:    {productID},
			entity.LinkComponents: {compID},
		},
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, entity.KindComponent, compID))

	got, err := s.Get(ctx, entity.KindTestCase, caseID)
	require.NoError(t, err)
	assert.Equal(t, []string{compID}, got.Links[entity.LinkComponents])

	_, err = s.Get(ctx, entity.KindComponent, compID)
	assert.ErrorIs(t, err, entity.ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, entity.KindComponent, compID), entity.ErrNotFound)
}

func TestAttachments(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.PutAttachment(ctx, "cases/login/screen.png", []byte{0x89, 'P', 'N', 'G'}))
	require.NoError(t, s.PutAttachment(ctx, "cases/login/screen.png", []byte("v2")))

	got, err := s.ReadAttachment(ctx, "cases/login/screen.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	_, err = s.ReadAttachment(ctx, "missing")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}
