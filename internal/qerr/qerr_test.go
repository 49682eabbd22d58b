package qerr_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orq/internal/qerr"
)

func TestNewCarriesCodeAndFields(t *testing.T) {
	err := qerr.New(qerr.CodeParameterUnbound, "parameter id is not bound", qerr.FieldParameter("id"))
	require.Error(t, err)

	assert.Equal(t, qerr.CodeParameterUnbound, qerr.CodeOf(err))
	assert.True(t, qerr.IsParameter(err))
	assert.False(t, qerr.IsSemantic(err))
	assert.Equal(t, "id", qerr.FieldsOf(err)["parameter"])
	assert.Contains(t, err.Error(), "id")
}

func TestWrapKeepsCause(t *testing.T) {
	inner := stderrors.New("disk I/O error")
	err := qerr.Wrap(inner, qerr.CodeExecutionStatement, "executing statement", qerr.FieldSQL("select 1"))

	assert.ErrorIs(t, err, inner)
	assert.True(t, qerr.IsExecution(err))
	assert.Equal(t, "select 1", qerr.FieldsOf(err)["sql"])
}

func TestCodeSurvivesStdWrapping(t *testing.T) {
	err := fmt.Errorf("compile: %w", qerr.New(qerr.CodeSemanticUnresolvedPath, "no attribute"))
	assert.True(t, qerr.IsSemantic(err))
	assert.True(t, qerr.HasCode(err, qerr.CodeSemanticUnresolvedPath))
}

func TestForeignErrorsHaveNoCode(t *testing.T) {
	assert.Equal(t, qerr.Code(""), qerr.CodeOf(stderrors.New("plain")))
	assert.Equal(t, qerr.Code(""), qerr.CodeOf(nil))
	assert.Nil(t, qerr.Wrap(nil, qerr.CodeExecutionStatement, "nothing"))
}

func TestUnsupported(t *testing.T) {
	err := qerr.Unsupported("right join")
	assert.True(t, qerr.IsUnsupported(err))
	assert.Equal(t, "right join", qerr.FieldsOf(err)["feature"])
}
