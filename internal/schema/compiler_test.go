package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompiler_Prepare(t *testing.T) {
	compiler := NewCompilerWithCache(64)
	ctx := context.Background()

	require.NoError(t, compiler.Prepare(ctx, SnapshotSchema))
	require.NoError(t, compiler.Prepare(ctx, SnapshotSchema), "cached schemas are not added twice")

	broken := map[string]interface{}{"type": 12}
	assert.Error(t, compiler.Prepare(ctx, broken))
}

func TestCompiler_ValidateSnapshot(t *testing.T) {
	compiler := NewCompilerWithCache(64)
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		doc := `{"values":{"firstName":"Kari","zip":"0150"},"checked":{"termsAccepted":true}}`
		assert.NoError(t, compiler.Validate(ctx, SnapshotSchema, []byte(doc)))
	})

	t.Run("empty object", func(t *testing.T) {
		assert.NoError(t, compiler.Validate(ctx, SnapshotSchema, []byte(`{}`)))
	})

	t.Run("checkbox must be boolean", func(t *testing.T) {
		doc := `{"checked":{"termsAccepted":"yes"}}`
		assert.Error(t, compiler.Validate(ctx, SnapshotSchema, []byte(doc)))
	})

	t.Run("unknown top-level key", func(t *testing.T) {
		assert.Error(t, compiler.Validate(ctx, SnapshotSchema, []byte(`{"form":{}}`)))
	})

	t.Run("bad field name", func(t *testing.T) {
		assert.Error(t, compiler.Validate(ctx, SnapshotSchema, []byte(`{"values":{"1st":"x"}}`)))
	})

	t.Run("not json", func(t *testing.T) {
		assert.Error(t, compiler.Validate(ctx, SnapshotSchema, []byte(`{`)))
	})
}
